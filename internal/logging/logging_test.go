// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package logging_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/valrig/valrig/internal/logging"
)

// recordingLogger collects messages for inspection.
type recordingLogger struct {
	msgs []string
}

func (l *recordingLogger) Log(level logging.Level, ts time.Time, msg string) {
	l.msgs = append(l.msgs, msg)
}

func TestAttachLoggerPropagation(t *testing.T) {
	outer := &recordingLogger{}
	inner := &recordingLogger{}

	ctx := logging.AttachLogger(context.Background(), outer)
	ctx = logging.AttachLogger(ctx, inner)

	logging.Info(ctx, "hello")

	want := []string{"hello"}
	if diff := cmp.Diff(want, outer.msgs); diff != "" {
		t.Errorf("Outer logger mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, inner.msgs); diff != "" {
		t.Errorf("Inner logger mismatch (-want +got):\n%s", diff)
	}
}

func TestAttachLoggerNoPropagation(t *testing.T) {
	outer := &recordingLogger{}
	inner := &recordingLogger{}

	ctx := logging.AttachLogger(context.Background(), outer)
	ctx = logging.AttachLoggerNoPropagation(ctx, inner)

	logging.Infof(ctx, "hello %d", 42)

	if len(outer.msgs) != 0 {
		t.Errorf("Outer logger got %v; want none", outer.msgs)
	}
	if diff := cmp.Diff([]string{"hello 42"}, inner.msgs); diff != "" {
		t.Errorf("Inner logger mismatch (-want +got):\n%s", diff)
	}
}

func TestLogWithoutLogger(t *testing.T) {
	// Logging to a context without a logger must not panic.
	logging.Info(context.Background(), "dropped")
	logging.Debug(context.Background(), "dropped")
}

func TestSinkLoggerLevelAndTimestamp(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewSinkLogger(logging.LevelInfo, true, logging.NewWriterSink(&buf))

	ts := time.Date(2024, 5, 1, 12, 34, 56, 0, time.UTC)
	logger.Log(logging.LevelDebug, ts, "debug message")
	logger.Log(logging.LevelInfo, ts, "info message")

	out := buf.String()
	if strings.Contains(out, "debug message") {
		t.Errorf("Output %q contains debug message filtered by level", out)
	}
	const want = "2024-05-01T12:34:56.000000Z info message\n"
	if out != want {
		t.Errorf("Output = %q; want %q", out, want)
	}
}

func TestMultiLoggerRemove(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}
	ml := logging.NewMultiLogger(a, b)

	ml.Log(logging.LevelInfo, time.Now(), "first")
	ml.RemoveLogger(b)
	ml.Log(logging.LevelInfo, time.Now(), "second")

	if diff := cmp.Diff([]string{"first", "second"}, a.msgs); diff != "" {
		t.Errorf("Logger a mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"first"}, b.msgs); diff != "" {
		t.Errorf("Logger b mismatch (-want +got):\n%s", diff)
	}
}
