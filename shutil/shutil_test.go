// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package shutil

import "testing"

func TestEscape(t *testing.T) {
	for _, tc := range []struct {
		in, want string
	}{
		{``, `''`},
		{`abc`, `abc`},
		{`ab c`, `'ab c'`},
		{`-flag=value`, `-flag=value`},
		{`=ab`, `'=ab'`},
		{`a"b`, `'a"b'`},
		{`a'b`, `'a'"'"'b'`},
		{`$HOME`, `'$HOME'`},
		{`C:\tests\case`, `'C:\tests\case'`},
	} {
		if got := Escape(tc.in); got != tc.want {
			t.Errorf("Escape(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestEscapeSlice(t *testing.T) {
	in := []string{"pwsh", "-File", "run tests.ps1", "-count", "3"}
	const want = `pwsh -File 'run tests.ps1' -count 3`
	if got := EscapeSlice(in); got != want {
		t.Errorf("EscapeSlice(%v) = %q; want %q", in, got, want)
	}
}
