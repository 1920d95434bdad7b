/*
Package bitflip implements single-bit-flip enumeration of domain names for
defensive bit-squatting audits.

A stray flipped bit in memory or on the wire turns one byte of a domain
name into another; if the resulting string is itself a well-formed domain,
traffic can silently end up at an attacker-registrable name. This package
generates every single-bit variant of a domain's name and TLD labels,
classifies the TLD candidates against a reference set, and packages the
results into per-domain reports.

Everything here is a pure function of its inputs: no I/O, no shared mutable
state, no goroutines. Callers are free to run enumeration for different
domains concurrently against one shared tldset.Set.
*/
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

// FlipResult records the outcome of flipping one bit of one byte.
// It is a plain value produced fresh per call; nothing retains or shares it.
type FlipResult struct {
	Bit      int  // Bit position 0..7 that was flipped.
	Original byte // The input byte.
	Flipped  byte // Original XOR (1 << Bit). Never equal to Original.
	Valid    bool // Flipped is printable ASCII and inside the legal domain alphabet.
}

// FlipBit flips bit position bit (0..7) of c.
// XOR with a non-zero mask always changes the value, so a "no-op flip"
// cannot occur, and applying the same flip twice restores the original
// byte (involution).
func FlipBit(c byte, bit int) byte {
	return c ^ (1 << bit)
}

// FlipAll returns the 8 single-bit flips of c in ascending bit order.
// Every result is emitted, including invalid ones; Valid tells the caller
// which results are usable as domain characters. Deterministic and
// allocation-free apart from the returned array.
func FlipAll(c byte) [8]FlipResult {
	var results [8]FlipResult
	for bit := range 8 {
		flipped := FlipBit(c, bit)
		results[bit] = FlipResult{
			Bit:      bit,
			Original: c,
			Flipped:  flipped,
			Valid:    IsPrintable(flipped) && InAlphabet(flipped),
		}
	}
	return results
}

// IsPrintable reports whether b is printable ASCII (0x20..0x7e).
// Bytes outside this range, including DEL and anything with the high bit
// set, can never appear in a hostname.
func IsPrintable(b byte) bool {
	return b >= 0x20 && b <= 0x7e
}

// InAlphabet reports whether b belongs to the legal domain alphabet:
// lowercase letters, digits and hyphen. The check is case-sensitive at the
// byte level; an uppercase flip result is NOT in the alphabet. DNS treats
// names case-insensitively, but a candidate built here must already be in
// canonical lowercase form, so uppercase intermediates are discarded
// instead of folded.
func InAlphabet(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') || b == '-'
}
