/*
Package tldset provides the reference set of known-registrable top-level
domains that bit-flipped TLD candidates are classified against.

The set is immutable after construction. Entries are stored lowercase with
no leading dot, and lookups are case-insensitive. Because nothing mutates a
Set after it is built, a single Set is safe to share across all worker
goroutines without locking.

The default set is compiled into the binary from tlds.txt (a subset of the
IANA root zone database). Operators can swap in their own reference file at
runtime; the file format matches the embedded one: one TLD per line, with
'#' comments and blank lines ignored.
*/
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
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	_ "embed"
)

//go:embed tlds.txt
var embeddedTlds string

// Set is an immutable collection of registrable TLD strings.
// Build one via Parse, LoadFile or Default; never mutate it afterwards.
type Set struct {
	entries map[string]struct{}
}

// defaultSet parses the embedded data exactly once. The embedded file is
// part of the binary, so a parse failure here is a corrupted build rather
// than a runtime condition; that is a construction-time fatal.
var defaultSet = sync.OnceValue(func() *Set {
	s, err := Parse(strings.NewReader(embeddedTlds))
	if err != nil {
		panic(fmt.Sprintf("tldset: embedded TLD data is invalid: %v", err))
	}
	return s
})

// Default returns the process-wide reference set built from the embedded
// TLD data. The returned Set is shared; callers must treat it as read-only.
func Default() *Set {
	return defaultSet()
}

// Parse reads a reference set from r, one TLD per line.
// Lines starting with '#' and blank lines are skipped. Entries are
// lowercased and leading dots are stripped, so ".COM" and "com" are the
// same entry. An input that yields zero entries is an error, not an empty
// set: a scan classified against nothing would silently report every
// candidate as unregistrable.
func Parse(r io.Reader) (*Set, error) {
	entries := make(map[string]struct{})

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entry := strings.ToLower(strings.TrimPrefix(line, "."))
		if entry == "" {
			continue
		}
		entries[entry] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed reading TLD data: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("TLD data contains no entries")
	}

	return &Set{entries: entries}, nil
}

// LoadFile builds a reference set from a local file (the --tld-file
// override). Errors are surfaced to the caller so a bad operator-supplied
// file aborts startup instead of degrading into an empty set.
func LoadFile(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open TLD file %q: %w", path, err)
	}
	defer f.Close()

	s, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TLD file %q: %w", path, err)
	}
	return s, nil
}

// Contains reports whether candidate is a registrable TLD.
// The lookup is case-insensitive, mirroring DNS. An empty candidate is
// never registrable; it returns false rather than an error.
func (s *Set) Contains(candidate string) bool {
	if candidate == "" {
		return false
	}
	_, ok := s.entries[strings.ToLower(candidate)]
	return ok
}

// Len returns the number of entries in the set.
func (s *Set) Len() int {
	return len(s.entries)
}

// All returns the entries as a new sorted slice. The slice is a copy;
// mutating it does not affect the Set.
func (s *Set) All() []string {
	out := make([]string, 0, len(s.entries))
	for entry := range s.entries {
		out = append(out, entry)
	}
	sort.Strings(out)
	return out
}
