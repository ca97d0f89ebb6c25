// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package runfolder

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventLog writes timestamped diagnostic events to a run's events.jsonl.
//
// The stream is best-effort diagnostics only: the script may also write to
// it, ordering across writers is not guaranteed, and it is never a source
// of truth for status. Write failures are deliberately swallowed.
type EventLog struct {
	mu sync.Mutex
	f  *os.File
}

// OpenEvents opens the run's event stream for appending.
func (f *Folder) OpenEvents() (*EventLog, error) {
	fh, err := os.OpenFile(filepath.Join(f.dir, EventsFile), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &EventLog{f: fh}, nil
}

// Event emits one event with optional extra fields.
func (e *EventLog) Event(name string, fields map[string]interface{}) {
	if e == nil {
		return
	}
	rec := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		rec[k] = v
	}
	rec["time"] = time.Now().UTC().Format(time.RFC3339Nano)
	rec["event"] = name

	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.f.Write(append(b, '\n'))
}

// Close closes the event stream.
func (e *EventLog) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.f.Close()
}
