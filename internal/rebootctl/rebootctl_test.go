// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rebootctl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/valrig/valrig/internal/runfolder"
	"github.com/valrig/valrig/testutil"
)

func TestRequestRoundTrip(t *testing.T) {
	td := testutil.TempDir(t)

	// No request yet.
	if req, err := ReadRequest(td); err != nil || req != nil {
		t.Fatalf("ReadRequest on empty dir = %v, %v; want nil, nil", req, err)
	}

	if err := WriteRequest(td, &Request{NextPhase: 1, DelaySec: 5}); err != nil {
		t.Fatalf("WriteRequest failed: %v", err)
	}
	req, err := ReadRequest(td)
	if err != nil {
		t.Fatalf("ReadRequest failed: %v", err)
	}
	if req.NextPhase != 1 || req.DelaySec != 5 {
		t.Errorf("Request = %+v; want NextPhase=1 DelaySec=5", req)
	}

	if err := ClearRequest(td); err != nil {
		t.Fatalf("ClearRequest failed: %v", err)
	}
	if req, err := ReadRequest(td); err != nil || req != nil {
		t.Errorf("ReadRequest after clear = %v, %v; want nil, nil", req, err)
	}
	// Clearing again is fine.
	if err := ClearRequest(td); err != nil {
		t.Errorf("Second ClearRequest failed: %v", err)
	}
}

func TestReadRequestMalformed(t *testing.T) {
	td := testutil.TempDir(t)

	for name, content := range map[string]string{
		"not json":   `{`,
		"zero phase": `{"nextPhase": 0}`,
	} {
		if err := os.WriteFile(filepath.Join(td, RequestFilename), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := ReadRequest(td); err == nil {
			t.Errorf("ReadRequest succeeded for %s request", name)
		}
	}
}

func TestContinuationRoundTrip(t *testing.T) {
	td := testutil.TempDir(t)
	f, err := runfolder.Create(td, "run-1")
	if err != nil {
		t.Fatal(err)
	}

	// Missing continuation is a protocol error.
	if _, err := Load(f); err == nil {
		t.Error("Load on fresh folder unexpectedly succeeded")
	}

	c := &Continuation{
		RunID:   "run-1",
		Target:  "fw.update@1.0",
		Kind:    "case",
		Phase:   1,
		Request: &Request{NextPhase: 1},
	}
	if err := Save(f, c); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := Load(f)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Phase != 1 || got.Target != "fw.update@1.0" {
		t.Errorf("Continuation = %+v", got)
	}

	// The first consume succeeds; the second fails, so the same suspension
	// cannot be resumed twice.
	if err := Consume(f); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if err := Consume(f); err == nil {
		t.Error("Second Consume unexpectedly succeeded")
	}
	if _, err := Load(f); err == nil {
		t.Error("Load after consume unexpectedly succeeded")
	}
}

func TestLoadMalformedContinuation(t *testing.T) {
	td := testutil.TempDir(t)
	f, err := runfolder.Create(td, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(f.Dir(), ContinuationFilename), []byte(`{"phase": 0}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(f); err == nil {
		t.Error("Load succeeded for malformed continuation")
	}
}
