// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package errors_test

import (
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/valrig/valrig/errors"
)

func TestNew(t *testing.T) {
	err := errors.New("meow")
	if s := err.Error(); s != "meow" {
		t.Errorf("Error() = %q; want %q", s, "meow")
	}
}

func TestErrorf(t *testing.T) {
	err := errors.Errorf("meow %d", 42)
	if s := err.Error(); s != "meow 42" {
		t.Errorf("Error() = %q; want %q", s, "meow 42")
	}
}

func TestWrap(t *testing.T) {
	base := errors.New("base")
	err := errors.Wrap(base, "wrapped")
	if s := err.Error(); s != "wrapped: base" {
		t.Errorf("Error() = %q; want %q", s, "wrapped: base")
	}
	if !errors.Is(err, base) {
		t.Error("Is(err, base) = false; want true")
	}
}

func TestWrapf(t *testing.T) {
	base := errors.New("base")
	err := errors.Wrapf(base, "wrapped %d", 42)
	if s := err.Error(); s != "wrapped 42: base" {
		t.Errorf("Error() = %q; want %q", s, "wrapped 42: base")
	}
}

func TestFormatChain(t *testing.T) {
	base := errors.New("base")
	err := errors.Wrap(base, "wrapped")
	s := fmt.Sprintf("%+v", err)

	// Expect both messages, each followed by at least one stack frame.
	re := regexp.MustCompile(`(?s)^wrapped\n\tat .+\nbase\n\tat .+`)
	if !re.MatchString(s) {
		t.Errorf("%%+v = %q; want match for %q", s, re)
	}
	if strings.Contains(s, "???") {
		t.Errorf("%%+v = %q; contains placeholder frame", s)
	}
}

func TestFormatForeignCause(t *testing.T) {
	err := errors.Wrap(fmt.Errorf("plain"), "wrapped")
	s := fmt.Sprintf("%+v", err)
	if !strings.Contains(s, "plain\n\tat ???") {
		t.Errorf("%%+v = %q; want foreign cause marked with ???", s)
	}
}
