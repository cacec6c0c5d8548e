// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package util

import "testing"

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
		err  bool
	}{
		{"0", 0, false},
		{"42", 42, false},
		{"0x20000", 0x20000, false},
		{"0X1F3A", 0x1f3a, false},
		{"0755", 0o755, false},
		{"", 0, true},
		{"zzz", 0, true},
		{"-1", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseValue(tc.in)
		if (err != nil) != tc.err {
			t.Errorf("ParseValue(%q): err = %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseValue(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseAddr32(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
		err  bool
	}{
		{"0", 0, false},
		{"0x20000", 0x20000, false},
		{"0xffffffff", 0xffffffff, false},
		{"0x100000000", 0, true},
		{"0x123456789a", 0, true},
		{"zzz", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseAddr32(tc.in)
		if (err != nil) != tc.err {
			t.Errorf("ParseAddr32(%q): err = %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseAddr32(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
		err  bool
	}{
		{"512", 512, false},
		{"4K", 4096, false},
		{"4k", 4096, false},
		{"16M", 16 * 1024 * 1024, false},
		{"0x10K", 16 * 1024, false},
		{"K", 0, true},
		{"1G", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseSize(tc.in)
		if (err != nil) != tc.err {
			t.Errorf("ParseSize(%q): err = %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
