package bitflip

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
	"slices"
	"testing"
)

func TestLabelVariants(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		label string
		want  []string
	}{
		{
			// Position 0 of "ab" yields c,e,i,q substitutions; position 1
			// yields c,f,j,r. All eight survive, in that order.
			name:  "two letters",
			label: "ab",
			want:  []string{"cb", "eb", "ib", "qb", "ac", "af", "aj", "ar"},
		},
		{
			name:  "fi",
			label: "fi",
			want:  []string{"gi", "di", "bi", "ni", "vi", "fh", "fk", "fm", "fa", "fy"},
		},
		{
			name:  "com",
			label: "com",
			want: []string{
				"bom", "aom", "gom", "kom", "som",
				"cnm", "cmm", "ckm", "cgm",
				"col", "coo", "coi", "coe", "co-",
			},
		},
		{
			name:  "single hyphen",
			label: "-",
			want:  []string{"m"},
		},
		{
			name:  "empty label",
			label: "",
			want:  nil,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := LabelVariants(tc.label)
			if !slices.Equal(got, tc.want) {
				t.Errorf("LabelVariants(%q) = %v, want %v", tc.label, got, tc.want)
			}
		})
	}
}

// TestLabelVariantsProperties checks the structural invariants for a range
// of labels: at most len*8 variants, every variant differs from the input
// in exactly one byte, and no variant appears twice.
func TestLabelVariantsProperties(t *testing.T) {
	t.Parallel()

	labels := []string{"a", "z", "0", "9", "-", "ab", "com", "fi", "example",
		"a-b", "0a9", "very-long-label-with-many-characters"}

	for _, label := range labels {
		variants := LabelVariants(label)
		if len(variants) > len(label)*8 {
			t.Errorf("LabelVariants(%q) produced %d variants, more than %d",
				label, len(variants), len(label)*8)
		}

		seen := make(map[string]bool, len(variants))
		for _, v := range variants {
			if v == label {
				t.Errorf("LabelVariants(%q) contains the original label", label)
			}
			if seen[v] {
				t.Errorf("LabelVariants(%q) contains duplicate %q", label, v)
			}
			seen[v] = true
			if len(v) != len(label) {
				t.Errorf("LabelVariants(%q) variant %q has length %d, want %d",
					label, v, len(v), len(label))
				continue
			}
			diff := 0
			for i := range len(label) {
				if v[i] != label[i] {
					diff++
				}
			}
			if diff != 1 {
				t.Errorf("LabelVariants(%q) variant %q differs in %d positions, want 1",
					label, v, diff)
			}
		}
	}
}

// FuzzLabelVariants feeds arbitrary labels through the enumerator and
// checks that the structural invariants hold regardless of input bytes.
func FuzzLabelVariants(f *testing.F) {
	f.Add("example")
	f.Add("com")
	f.Add("")
	f.Add("-")
	f.Add("xn--bcher-kva")
	f.Add("a.b")
	f.Add("\x00\xff")

	f.Fuzz(func(t *testing.T, label string) {
		variants := LabelVariants(label)
		if len(variants) > len(label)*8 {
			t.Fatalf("LabelVariants(%q) produced %d variants, more than %d",
				label, len(variants), len(label)*8)
		}
		seen := make(map[string]bool, len(variants))
		for _, v := range variants {
			if len(v) != len(label) {
				t.Fatalf("LabelVariants(%q) variant %q changed length", label, v)
			}
			if v == label {
				t.Fatalf("LabelVariants(%q) contains the original label", label)
			}
			if seen[v] {
				t.Fatalf("LabelVariants(%q) contains duplicate %q", label, v)
			}
			seen[v] = true
			for i := range len(v) {
				if !InAlphabet(v[i]) && v[i] != label[i] {
					t.Fatalf("LabelVariants(%q) variant %q has illegal substituted byte %#02x",
						label, v, v[i])
				}
			}
		}
	})
}

func BenchmarkLabelVariants(b *testing.B) {
	for i := 0; i < b.N; i++ {
		LabelVariants("example")
	}
}
