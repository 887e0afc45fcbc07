// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package recordio implements the recordio file format.  A recordio file stores
// a sequence of items, with optional compressiond, encryption, and indexing.
//
// Writer, WriterOpts and Scanner document the format's options.
package recordio
