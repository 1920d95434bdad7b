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

import "testing"

func TestFlipBit(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		c    byte
		bit  int
		want byte
	}{
		{name: "lowest bit of a", c: 'a', bit: 0, want: '`'},
		{name: "bit 1 of a", c: 'a', bit: 1, want: 'c'},
		{name: "case bit of a", c: 'a', bit: 5, want: 'A'},
		{name: "case bit of A", c: 'A', bit: 5, want: 'a'},
		{name: "high bit of a", c: 'a', bit: 7, want: 0xe1},
		{name: "digit to digit", c: '0', bit: 0, want: '1'},
		{name: "hyphen to m", c: '-', bit: 6, want: 'm'},
		{name: "nul lowest bit", c: 0x00, bit: 0, want: 0x01},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := FlipBit(tc.c, tc.bit); got != tc.want {
				t.Errorf("FlipBit(%#02x, %d) = %#02x, want %#02x", tc.c, tc.bit, got, tc.want)
			}
		})
	}
}

// TestFlipBitInvolution checks that flipping the same bit twice restores
// the original byte, for every byte value and every bit position.
func TestFlipBitInvolution(t *testing.T) {
	t.Parallel()

	for c := 0; c < 256; c++ {
		for bit := range 8 {
			once := FlipBit(byte(c), bit)
			twice := FlipBit(once, bit)
			if twice != byte(c) {
				t.Fatalf("FlipBit(FlipBit(%#02x, %d), %d) = %#02x, want %#02x",
					c, bit, bit, twice, c)
			}
		}
	}
}

// TestFlipAllLowercaseA pins the exact 8-entry result for 'a'. Flipping
// bits 1 through 4 lands on other lowercase letters; bit 0 yields backtick,
// bit 5 the uppercase form, bit 6 punctuation and bit 7 a non-ASCII byte,
// all of which are unusable in a domain label.
func TestFlipAllLowercaseA(t *testing.T) {
	t.Parallel()

	want := [8]FlipResult{
		{Bit: 0, Original: 'a', Flipped: '`', Valid: false},
		{Bit: 1, Original: 'a', Flipped: 'c', Valid: true},
		{Bit: 2, Original: 'a', Flipped: 'e', Valid: true},
		{Bit: 3, Original: 'a', Flipped: 'i', Valid: true},
		{Bit: 4, Original: 'a', Flipped: 'q', Valid: true},
		{Bit: 5, Original: 'a', Flipped: 'A', Valid: false},
		{Bit: 6, Original: 'a', Flipped: '!', Valid: false},
		{Bit: 7, Original: 'a', Flipped: 0xe1, Valid: false},
	}

	got := FlipAll('a')
	if got != want {
		t.Errorf("FlipAll('a') = %+v, want %+v", got, want)
	}
}

func TestFlipAllUsableFlips(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		c    byte
		want []byte
	}{
		{name: "letter a", c: 'a', want: []byte{'c', 'e', 'i', 'q'}},
		{name: "digit zero", c: '0', want: []byte{'1', '2', '4', '8', 'p'}},
		{name: "hyphen", c: '-', want: []byte{'m'}},
		{name: "letter m", c: 'm', want: []byte{'l', 'o', 'i', 'e', '-'}},
		{name: "uppercase flips to lowercase", c: 'A', want: []byte{'a'}},
		{name: "dot flips to n", c: '.', want: []byte{'n'}},
		{name: "at sign never usable", c: '@', want: nil},
		{name: "all bits set never usable", c: 0xff, want: nil},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var got []byte
			for _, fr := range FlipAll(tc.c) {
				if fr.Valid {
					got = append(got, fr.Flipped)
				}
			}
			if string(got) != string(tc.want) {
				t.Errorf("FlipAll(%q) usable flips = %q, want %q", tc.c, got, tc.want)
			}
		})
	}
}

// TestFlipAllProperties checks the structural invariants of FlipAll for
// every byte value: exactly 8 entries in ascending bit order, each entry
// consistent with FlipBit, Valid consistent with the validity predicates,
// and all 8 flipped values distinct from each other and the original.
func TestFlipAllProperties(t *testing.T) {
	t.Parallel()

	for c := 0; c < 256; c++ {
		results := FlipAll(byte(c))
		seen := make(map[byte]bool, 8)
		for bit, fr := range results {
			if fr.Bit != bit {
				t.Fatalf("FlipAll(%#02x)[%d].Bit = %d, want %d", c, bit, fr.Bit, bit)
			}
			if fr.Original != byte(c) {
				t.Fatalf("FlipAll(%#02x)[%d].Original = %#02x, want %#02x", c, bit, fr.Original, c)
			}
			if want := FlipBit(byte(c), bit); fr.Flipped != want {
				t.Fatalf("FlipAll(%#02x)[%d].Flipped = %#02x, want %#02x", c, bit, fr.Flipped, want)
			}
			if fr.Flipped == byte(c) {
				t.Fatalf("FlipAll(%#02x)[%d].Flipped equals the original byte", c, bit)
			}
			if seen[fr.Flipped] {
				t.Fatalf("FlipAll(%#02x) produced duplicate flipped byte %#02x", c, fr.Flipped)
			}
			seen[fr.Flipped] = true
			if want := IsPrintable(fr.Flipped) && InAlphabet(fr.Flipped); fr.Valid != want {
				t.Fatalf("FlipAll(%#02x)[%d].Valid = %t, want %t (flipped %#02x)",
					c, bit, fr.Valid, want, fr.Flipped)
			}
		}
	}
}

func TestIsPrintable(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		b    byte
		want bool
	}{
		{name: "below space", b: 0x1f, want: false},
		{name: "space", b: 0x20, want: true},
		{name: "tilde", b: 0x7e, want: true},
		{name: "delete", b: 0x7f, want: false},
		{name: "nul", b: 0x00, want: false},
		{name: "high bit set", b: 0xe1, want: false},
		{name: "letter", b: 'a', want: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsPrintable(tc.b); got != tc.want {
				t.Errorf("IsPrintable(%#02x) = %t, want %t", tc.b, got, tc.want)
			}
		})
	}
}

func TestInAlphabet(t *testing.T) {
	t.Parallel()

	for _, b := range []byte("abcmxyz0159-") {
		if !InAlphabet(b) {
			t.Errorf("InAlphabet(%q) = false, want true", b)
		}
	}
	for _, b := range []byte("AZMZ`{/:. _~!@") {
		if InAlphabet(b) {
			t.Errorf("InAlphabet(%q) = true, want false", b)
		}
	}
}

func BenchmarkFlipAll(b *testing.B) {
	var sink int
	for i := 0; i < b.N; i++ {
		for _, fr := range FlipAll('a') {
			if fr.Valid {
				sink++
			}
		}
	}
	_ = sink
}
