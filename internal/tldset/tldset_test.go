package tldset

/*
bitsquat — bit-flip domain name auditing tool in Go
Copyright (C) 2025  Pepijn van der Stap <bitsquat@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestParse exercises the line format: comments, blanks, case folding and
// leading-dot stripping.
func TestParse(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name    string
		input   string
		wantLen int
		wantErr bool
		present []string
		absent  []string
	}{
		{
			name:    "Plain lowercase entries",
			input:   "com\nnet\norg\n",
			wantLen: 3,
			present: []string{"com", "net", "org"},
		},
		{
			name:    "IANA style uppercase with header comment",
			input:   "# Version 2025082400, Last Updated Sun Aug 24 2025\nCOM\nNET\nORG\n",
			wantLen: 3,
			present: []string{"com", "net", "org"},
		},
		{
			name:    "Leading dots stripped",
			input:   ".com\n.fi\n",
			wantLen: 2,
			present: []string{"com", "fi"},
		},
		{
			name:    "Blank lines and inline comments skipped",
			input:   "\ncom\n\n# country codes\nfi\n\n",
			wantLen: 2,
			present: []string{"com", "fi"},
			absent:  []string{"# country codes", ""},
		},
		{
			name:    "Duplicates collapse",
			input:   "com\nCOM\n.com\n",
			wantLen: 1,
			present: []string{"com"},
		},
		{
			name:    "Empty input is an error",
			input:   "",
			wantErr: true,
		},
		{
			name:    "Comment-only input is an error",
			input:   "# nothing here\n\n",
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s, err := Parse(strings.NewReader(tc.input))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) succeeded; want error", tc.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tc.input, err)
			}
			if s.Len() != tc.wantLen {
				t.Errorf("Len() = %d; want %d", s.Len(), tc.wantLen)
			}
			for _, entry := range tc.present {
				if !s.Contains(entry) {
					t.Errorf("Contains(%q) = false; want true", entry)
				}
			}
			for _, entry := range tc.absent {
				if s.Contains(entry) {
					t.Errorf("Contains(%q) = true; want false", entry)
				}
			}
		})
	}
}

// TestContains pins the classifier contract: case-insensitive membership,
// and the empty string is never registrable.
func TestContains(t *testing.T) {
	t.Parallel()
	s, err := Parse(strings.NewReader("com\nfi\n"))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	testCases := []struct {
		name      string
		candidate string
		want      bool
	}{
		{"Exact match", "com", true},
		{"Uppercase candidate", "COM", true},
		{"Mixed case candidate", "Fi", true},
		{"Unknown TLD", "zz", false},
		{"Empty string never registrable", "", false},
		{"Leading dot is not normalized on lookup", ".com", false},
		{"Whitespace is not trimmed on lookup", " com", false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := s.Contains(tc.candidate); got != tc.want {
				t.Errorf("Contains(%q) = %t; want %t", tc.candidate, got, tc.want)
			}
		})
	}
}

// TestDefault sanity-checks the embedded reference data without pinning its
// exact size, which changes as the data file is refreshed.
func TestDefault(t *testing.T) {
	t.Parallel()
	s := Default()
	if s.Len() < 200 {
		t.Errorf("Default().Len() = %d; want at least 200 entries", s.Len())
	}
	for _, tld := range []string{"com", "net", "org", "fi", "uk", "de"} {
		if !s.Contains(tld) {
			t.Errorf("Default() missing %q", tld)
		}
	}
	if s.Contains("notarealtld") {
		t.Error("Default() contains \"notarealtld\"")
	}

	// Default must hand back the same shared instance on every call.
	if Default() != s {
		t.Error("Default() returned a different instance on second call")
	}
}

// TestAll verifies ordering and that the returned slice is a copy.
func TestAll(t *testing.T) {
	t.Parallel()
	s, err := Parse(strings.NewReader("org\ncom\nnet\n"))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	all := s.All()
	want := []string{"com", "net", "org"}
	if len(all) != len(want) {
		t.Fatalf("All() returned %d entries; want %d", len(all), len(want))
	}
	for i, entry := range want {
		if all[i] != entry {
			t.Errorf("All()[%d] = %q; want %q", i, all[i], entry)
		}
	}

	all[0] = "mutated"
	if s.Contains("mutated") || !s.Contains("com") {
		t.Error("mutating All() result affected the Set")
	}
}

// TestLoadFile covers the operator override path, including missing files.
func TestLoadFile(t *testing.T) {
	t.Parallel()

	t.Run("Valid file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "tlds.txt")
		if err := os.WriteFile(path, []byte("# custom set\ncom\ntest\n"), 0644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
		s, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile(%q) returned error: %v", path, err)
		}
		if !s.Contains("test") {
			t.Error("Contains(\"test\") = false; want true")
		}
	})

	t.Run("Missing file", func(t *testing.T) {
		t.Parallel()
		if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
			t.Fatal("LoadFile on missing file succeeded; want error")
		}
	})

	t.Run("Empty file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "empty.txt")
		if err := os.WriteFile(path, nil, 0644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
		if _, err := LoadFile(path); err == nil {
			t.Fatal("LoadFile on empty file succeeded; want error")
		}
	})
}

// BenchmarkContains measures the classifier hot path.
func BenchmarkContains(b *testing.B) {
	s := Default()
	for i := 0; i < b.N; i++ {
		_ = s.Contains("fi")
	}
}

// BenchmarkContainsUppercase includes the case-folding cost.
func BenchmarkContainsUppercase(b *testing.B) {
	s := Default()
	for i := 0; i < b.N; i++ {
		_ = s.Contains("FI")
	}
}
