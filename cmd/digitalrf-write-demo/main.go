// Copyright 2024 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command digitalrf-write-demo streams synthetic complex int16 samples into
// a Digital RF channel rooted at a directory, exercising rotation, gap
// indexing, and the ambient audit-log/checkpoint/sidecar observers end to
// end. It is meant as a runnable illustration of the digitalrf package, not
// a production ingest tool.
package main

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/digitalrf/digitalrf"
	"github.com/digitalrf/digitalrf/auditlog"
	"github.com/digitalrf/digitalrf/checkpoint"
	"github.com/digitalrf/digitalrf/log"
	"github.com/digitalrf/digitalrf/must"
	"github.com/digitalrf/digitalrf/sidecar"
)

func main() {
	channelRoot := flag.String("channel_root", "", "directory to write the channel into (must exist)")
	sampleRate := flag.Float64("sample_rate", 1e5, "sample rate in Hz")
	samplesPerFile := flag.Uint64("samples_per_file", 10000, "samples per rf_data file")
	filesPerSubdir := flag.Int("files_per_subdir", 4, "files per subdirectory")
	numBlocks := flag.Int("num_blocks", 8, "number of append calls to make")
	blockLen := flag.Uint64("block_len", 3000, "samples per append call")
	gapEvery := flag.Int("gap_every", 3, "leave a one-sample-rate-second gap before every Nth block (0 disables)")
	zstdSidecar := flag.Bool("zstd_sidecar", false, "use zstd instead of flate for sidecar metadata")
	marchingDots := flag.Bool("marching_dots", false, "log a dot to stderr for every file slice written (a block that crosses a file boundary logs two)")
	flag.Parse()

	if *channelRoot == "" {
		fmt.Fprintln(os.Stderr, "digitalrf-write-demo: -channel_root is required")
		os.Exit(2)
	}

	st := digitalrf.SampleType{
		Order:     digitalrf.LittleEndian,
		Kind:      digitalrf.KindSignedInt,
		Width:     2,
		IsComplex: true,
	}

	ch, err := digitalrf.Create(*channelRoot, st, *samplesPerFile, *filesPerSubdir,
		uint64(*sampleRate), *sampleRate, newUUID(), 1, true, 1, *marchingDots)
	must.Nil(err, "creating channel")

	al, err := auditlog.Open(*channelRoot)
	must.Nil(err, "opening audit log")
	defer al.Close()
	ch.AuditLog = al

	cp, err := checkpoint.Open(*channelRoot)
	must.Nil(err, "opening checkpoint")
	defer cp.Close()
	ch.Checkpoint = cp

	var sidecarOpts []sidecar.Option
	if *zstdSidecar {
		sidecarOpts = append(sidecarOpts, sidecar.WithZstd())
	}
	sc := sidecar.New(*channelRoot, sidecarOpts...)
	defer sc.Close()
	ch.Sidecar = sc

	var global uint64
	for i := 0; i < *numBlocks; i++ {
		if *gapEvery > 0 && i > 0 && i%*gapEvery == 0 {
			global += uint64(*sampleRate)
		}
		buf := syntheticComplexInt16(*blockLen, global)
		must.Nilf(ch.AppendContinuous(global, buf, *blockLen), "appending block %d", i)
		global += *blockLen
	}

	must.Nil(ch.Close(), "closing channel")
	log.Printf("wrote %d blocks (%d samples) to %s", *numBlocks, uint64(*numBlocks)*(*blockLen), *channelRoot)
}

// syntheticComplexInt16 fills a buffer of n complex int16 {r,i} pairs with a
// tone of amplitude 30000, starting at the given global sample index so that
// successive calls produce a phase-continuous signal regardless of gaps.
func syntheticComplexInt16(n, startGlobal uint64) []byte {
	const toneCyclesPerSample = 0.01
	buf := make([]byte, n*4)
	for i := uint64(0); i < n; i++ {
		phase := 2 * math.Pi * toneCyclesPerSample * float64(startGlobal+i)
		r := int16(math.Round(math.Sin(phase) * 30000))
		im := int16(math.Round(math.Cos(phase) * 30000))
		binary.LittleEndian.PutUint16(buf[i*4:], uint16(r))
		binary.LittleEndian.PutUint16(buf[i*4+2:], uint16(im))
	}
	return buf
}

func newUUID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "00000000000000000000000000000000"
	}
	return hex.EncodeToString(b[:])
}
