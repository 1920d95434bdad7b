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
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/x-stp/bitsquat/internal/tldset"
)

func TestLoadReferenceTldsEmptyPathUsesEmbeddedSet(t *testing.T) {
	t.Parallel()

	got, err := LoadReferenceTlds("")
	if err != nil {
		t.Fatalf("LoadReferenceTlds(\"\"): %v", err)
	}
	if got != tldset.Default() {
		t.Fatal("empty path did not return the shared embedded set")
	}
	if got.Len() == 0 {
		t.Fatal("embedded set is empty")
	}
}

func TestLoadReferenceTldsFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tlds.txt")
	data := "fi\ncom\n# comment line\n\n.ORG\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write tld file: %v", err)
	}

	set, err := LoadReferenceTlds(path)
	if err != nil {
		t.Fatalf("LoadReferenceTlds(%q): %v", path, err)
	}
	if set.Len() != 3 {
		t.Fatalf("set has %d entries; want 3", set.Len())
	}
	for _, tld := range []string{"fi", "com", "org", "ORG"} {
		if !set.Contains(tld) {
			t.Errorf("Contains(%q) = false; want true", tld)
		}
	}
	if set.Contains("xyz") {
		t.Error("Contains(\"xyz\") = true; want false")
	}
}

func TestLoadReferenceTldsMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadReferenceTlds(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Fatal("missing TLD file did not return an error")
	}
}

func TestListReferenceTldsSorted(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tlds.txt")
	if err := os.WriteFile(path, []byte("org\ncom\nfi\n"), 0644); err != nil {
		t.Fatalf("write tld file: %v", err)
	}

	got, err := ListReferenceTlds(path)
	if err != nil {
		t.Fatalf("ListReferenceTlds(%q): %v", path, err)
	}
	want := []string{"com", "fi", "org"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ListReferenceTlds = %v; want %v", got, want)
	}
}
