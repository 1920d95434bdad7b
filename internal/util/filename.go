package util

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
	"path/filepath"
	"strings"
)

// SanitizeFilename makes an input name filesystem-safe.
// Replaces common problematic characters with underscores and limits length.
// Performance is not critical for this setup utility.
func SanitizeFilename(input string) string {
	replaced := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, input)
	// Limit filename length to avoid OS issues.
	maxLength := 100
	if len(replaced) > maxLength {
		return replaced[:maxLength]
	}
	return replaced
}

// OutputBasename derives the per-source output file stem used in output-dir
// mode. Stdin ("-" or empty) maps to "stdin"; a path keeps only its base
// name, sanitized.
func OutputBasename(source string) string {
	if source == "" || source == "-" {
		return "stdin"
	}
	return SanitizeFilename(filepath.Base(source))
}
