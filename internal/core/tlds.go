package core

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
	"github.com/x-stp/bitsquat/internal/tldset"
)

// LoadReferenceTlds resolves the reference TLD set for a run.
// An empty path selects the set embedded in the binary; otherwise the file
// at path is parsed, and any error aborts startup.
func LoadReferenceTlds(path string) (*tldset.Set, error) {
	if path == "" {
		return tldset.Default(), nil
	}
	return tldset.LoadFile(path)
}

// ListReferenceTlds returns the reference TLDs in sorted order, for display.
func ListReferenceTlds(path string) ([]string, error) {
	set, err := LoadReferenceTlds(path)
	if err != nil {
		return nil, err
	}
	return set.All(), nil
}
