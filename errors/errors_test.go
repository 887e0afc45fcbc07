// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package errors_test

import (
	"context"
	goerrors "errors"
	"fmt"
	"os"
	"testing"

	fuzz "github.com/google/gofuzz"

	"github.com/digitalrf/digitalrf/errors"
)

func TestError(t *testing.T) {
	_, err := os.Open("/dev/notexist")
	e1 := errors.E(errors.DirectoryUnusable, "opening file", err)
	if got, want := e1.Error(), "opening file: directory unusable: open /dev/notexist: no such file or directory"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if !errors.Is(errors.DirectoryUnusable, e1) {
		t.Errorf("error %v should be DirectoryUnusable", e1)
	}
}

func TestErrorChaining(t *testing.T) {
	_, err := os.Open("/dev/notexist")
	err = errors.E(errors.WriteBeforeCursor, "cursor at 100, got 50", err)
	err = errors.E(errors.Fatal, "cannot proceed", err)
	want := "cannot proceed: write before cursor (fatal):\n\tcursor at 100, got 50: directory unusable: open /dev/notexist: no such file or directory"
	if got := err.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

type temporaryError string

func (t temporaryError) Error() string   { return string(t) }
func (t temporaryError) Temporary() bool { return true }

func TestIsTemporary(t *testing.T) {
	for _, c := range []struct {
		err       error
		temporary bool
	}{
		{errors.E(goerrors.New("no idea")), false},
		{errors.E(temporaryError(""), errors.ConfigInvalid), true},
		{errors.E(errors.Temporary, "failed to open socket"), true},
		{errors.E("no idea"), false},
		{errors.E(errors.Fatal, "fatal error"), false},
		{errors.E(fmt.Errorf("test")), false},
	} {
		e := errors.Recover(c.err)
		if got, want := e.Temporary(), c.temporary; got != want {
			t.Errorf("error %v: got %v, want %v", c.err, got, want)
		}
	}
}

func TestMessage(t *testing.T) {
	for _, c := range []struct {
		err     error
		message string
	}{
		{errors.E("hello"), "hello"},
		{errors.E("hello", "world"), "hello world"},
	} {
		if got, want := c.err.Error(), c.message; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestStdInterop(t *testing.T) {
	_, err := os.Open("/dev/notexist")
	wrapped := errors.E(err)
	if got, want := errors.Is(errors.DirectoryUnusable, wrapped), true; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := goerrors.Is(wrapped, os.ErrNotExist), true; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// err should not match a distinct wrapped target.
	if got, want := goerrors.Is(wrapped, fmt.Errorf("%w", context.Canceled)), false; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// TestEKindFuzz calls E with a randomized kind and message plus a plain
// cause, checking that construction never panics and that an explicitly
// set Kind is preserved.
func TestEKindFuzz(t *testing.T) {
	fz := fuzz.New().NilChance(0).NumElements(0, 3)
	const N = 200
	for i := 0; i < N; i++ {
		var kind errors.Kind
		var msg string
		fz.Fuzz(&kind)
		fz.Fuzz(&msg)
		err := errors.E(kind, msg, goerrors.New("cause"))
		e := errors.Recover(err)
		if e.Kind != kind {
			t.Fatalf("iteration %d: got kind %v, want %v", i, e.Kind, kind)
		}
	}
}

func TestKindOf(t *testing.T) {
	err := errors.E(errors.TypeUnsupported, "bad width")
	if got, want := errors.KindOf(err), errors.TypeUnsupported; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := errors.KindOf(goerrors.New("plain")), errors.Other; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
