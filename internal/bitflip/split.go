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

import "strings"

// SplitDomain splits a domain into its name and final label on the LAST
// dot: "a.b.co.uk" becomes ("a.b.co", "uk"). A string without a dot is all
// name and has an empty TLD; downstream TLD analysis then yields zero
// candidates rather than an error.
//
// This is deliberately the naive last-label split used throughout the
// bit-squatting literature. Multi-label public suffixes ("co.uk") are NOT
// resolved; the tool audits the final label only.
func SplitDomain(domain string) (name, tld string) {
	idx := strings.LastIndexByte(domain, '.')
	if idx < 0 {
		return domain, ""
	}
	return domain[:idx], domain[idx+1:]
}
