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

// LabelVariants enumerates every single-bit-flip variant of label that is
// still made of legal domain characters. For each character position
// (outer loop) and each bit position 0..7 (inner loop, ascending), the
// flipped character replaces the original at that position; all other
// characters are untouched, so every variant has the same length as label
// and differs from it in exactly one byte.
//
// The result is deduplicated with stable first-occurrence order. Under the
// case-sensitive validity policy two distinct (position, bit) pairs cannot
// actually produce the same string, so the seen set is an invariant guard
// rather than a filter, but it keeps the contract honest if the validity
// policy ever widens.
//
// An empty label yields nil. At most len(label)*8 variants are returned.
func LabelVariants(label string) []string {
	if label == "" {
		return nil
	}

	var variants []string
	var seen map[string]struct{}

	buf := []byte(label)
	for pos := range len(buf) {
		original := buf[pos]
		for _, fr := range FlipAll(original) {
			if !fr.Valid {
				continue
			}
			// XOR guarantees Flipped != Original; no equality check needed.
			buf[pos] = fr.Flipped
			candidate := string(buf)
			if seen == nil {
				seen = make(map[string]struct{}, len(label)*8)
			}
			if _, dup := seen[candidate]; dup {
				continue
			}
			seen[candidate] = struct{}{}
			variants = append(variants, candidate)
		}
		buf[pos] = original
	}
	return variants
}
