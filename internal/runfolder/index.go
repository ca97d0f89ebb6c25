// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package runfolder

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/valrig/valrig/errors"
)

// IndexFilename is the global run index file under the results root.
const IndexFilename = "index.jsonl"

// IndexRecord is one line of the global run index: a self-contained record
// letting external tools reconstruct history without replaying run folders.
type IndexRecord struct {
	RunID  string    `json:"runId"`
	Target string    `json:"target"`
	Kind   string    `json:"kind"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Status Status    `json:"status"`
}

// Index is the append-only global run index. It has a single logical writer
// per process; open it once and pass it to whichever component finalizes a
// run. Exactly one record is appended per completed (or suspended) run.
type Index struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
}

// OpenIndex opens (creating if needed) the index file for appending.
func OpenIndex(path string) (*Index, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open run index %s", path)
	}
	return &Index{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// Append appends one record and flushes it to disk.
func (ix *Index) Append(rec *IndexRecord) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	b, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "failed to marshal index record")
	}
	if _, err := ix.w.Write(append(b, '\n')); err != nil {
		return errors.Wrapf(err, "failed to append to run index %s", ix.path)
	}
	return ix.flushLocked()
}

// Flush flushes buffered records to disk.
func (ix *Index) Flush() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.flushLocked()
}

func (ix *Index) flushLocked() error {
	if err := ix.w.Flush(); err != nil {
		return errors.Wrapf(err, "failed to flush run index %s", ix.path)
	}
	return ix.f.Sync()
}

// Close flushes and closes the index.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.w.Flush(); err != nil {
		ix.f.Close()
		return err
	}
	return ix.f.Close()
}

// ReadIndex reads all records of an index file. Intended for external
// tooling and tests.
func ReadIndex(path string) ([]*IndexRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var recs []*IndexRecord
	dec := json.NewDecoder(f)
	for dec.More() {
		var rec IndexRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, errors.Wrapf(err, "corrupt run index %s", path)
		}
		recs = append(recs, &rec)
	}
	return recs, nil
}
