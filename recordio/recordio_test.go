// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package recordio_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/digitalrf/digitalrf/recordio"
)

func marshalString(scratch []byte, v interface{}) ([]byte, error) {
	return append(scratch[:0], v.(string)...), nil
}

func unmarshalString(data []byte) (interface{}, error) {
	return string(data), nil
}

func TestWriteAndScan(t *testing.T) {
	var buf bytes.Buffer
	w := recordio.NewWriter(&buf, recordio.WriterOpts{Marshal: marshalString})
	w.AddHeader("source", "recordio_test")
	const n = 50
	for i := 0; i < n; i++ {
		w.Append(fmt.Sprintf("record-%03d", i))
	}
	if err := w.Finish(); err != nil {
		t.Fatal(err)
	}

	r := bytes.NewReader(buf.Bytes())
	sc := recordio.NewScanner(r, recordio.ScannerOpts{Unmarshal: unmarshalString})
	for i := 0; i < n; i++ {
		if !sc.Scan() {
			t.Fatalf("record %d: scan stopped early: %v", i, sc.Err())
		}
		got := sc.Get().(string)
		want := fmt.Sprintf("record-%03d", i)
		if got != want {
			t.Errorf("record %d: got %q, want %q", i, got, want)
		}
	}
	if sc.Scan() {
		t.Errorf("expected no more records, got %v", sc.Get())
	}
	if err := sc.Finish(); err != nil {
		t.Fatal(err)
	}
	if got, want := sc.Header()[0].Key, "source"; got != want {
		t.Errorf("got header key %q, want %q", got, want)
	}
}
