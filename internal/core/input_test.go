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
	"errors"
	"strings"
	"testing"
)

// TestNormalizeDomain provides table-driven tests for various domain formats and edge cases.
// Goal: Ensure NormalizeDomain accepts exactly the inputs the flip enumeration can work on.
// Uses t.Parallel() to allow tests within this function to run concurrently.
func TestNormalizeDomain(t *testing.T) {
	t.Parallel() // Mark this test function as safe to run in parallel with others.
	testCases := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"Simple domain", "example.com", "example.com", false},
		{"Subdomain", "www.example.com", "www.example.com", false},
		{"Uppercase", "EXAMPLE.COM", "example.com", false},
		{"Mixed case", "Www.Example.Com", "www.example.com", false},
		{"Trailing dot", "example.com.", "example.com", false},
		{"Multiple trailing dots", "example.com...", "example.com", false},
		{"Leading dot", ".example.com", "example.com", false},
		{"Leading/Trailing spaces", "  example.fi  ", "example.fi", false},
		{"Single label", "localhost", "localhost", false},
		{"Digits and hyphens", "my-site01.co.uk", "my-site01.co.uk", false},
		{"Punycode passthrough", "xn--bcher-kva.de", "xn--bcher-kva.de", false}, // bücher.de
		{"Unicode to punycode", "bücher.de", "xn--bcher-kva.de", false},
		{"IPv4 shaped", "192.168.1.1", "192.168.1.1", false}, // Indistinguishable from a hostname at this layer.
		{"Empty string", "", "", true},
		{"Just spaces", "   ", "", true},
		{"Just dots", "...", "", true},
		{"Internal space", "exa mple.com", "", true},
		{"Underscore label", "_dmarc.example.com", "", true},
		{"Wildcard", "*.example.com", "", true},
		{"IPv6 shaped", "::1", "", true},
		{"Leading dash", "-example.com", "", true},
		{"Trailing dash", "example-.com", "", true},
		{"Empty interior label", "a..b", "", true},
		{"Label too long", strings.Repeat("a", 64) + ".com", "", true},
		{"Domain too long", strings.Repeat("ab.", 100) + "com", "", true},
	}

	for _, tc := range testCases {
		// Capture range variable for parallel execution.
		tc := tc
		// Run each test case as a parallel subtest.
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeDomain(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("NormalizeDomain(%q) = %q; want error", tc.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeDomain(%q) returned unexpected error: %v", tc.input, err)
			}
			if got != tc.want {
				t.Errorf("NormalizeDomain(%q) = %q; want %q", tc.input, got, tc.want)
			}
		})
	}
}

// TestScanDomains verifies line handling: comments and blanks are ignored,
// malformed domains are counted as skipped, and accepted domains reach the
// callback normalized and in input order.
func TestScanDomains(t *testing.T) {
	t.Parallel()
	input := strings.Join([]string{
		"# comment line",
		"",
		"Example.COM",
		"not a domain",
		"bücher.de",
		"   ",
		"www.example.fi.",
	}, "\n")

	var got []string
	accepted, skipped, err := ScanDomains(strings.NewReader(input), "test-input", func(domain string) error {
		got = append(got, domain)
		return nil
	})
	if err != nil {
		t.Fatalf("ScanDomains returned unexpected error: %v", err)
	}
	if accepted != 3 {
		t.Errorf("accepted = %d; want 3", accepted)
	}
	if skipped != 1 {
		t.Errorf("skipped = %d; want 1", skipped)
	}
	want := []string{"example.com", "xn--bcher-kva.de", "www.example.fi"}
	if len(got) != len(want) {
		t.Fatalf("callback received %d domains (%v); want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("domain[%d] = %q; want %q", i, got[i], want[i])
		}
	}
}

// TestScanDomainsCallbackError ensures a callback error aborts the scan and
// propagates unchanged, so context cancellation can stop a long input file.
func TestScanDomainsCallbackError(t *testing.T) {
	t.Parallel()
	errStop := errors.New("stop requested")
	input := "a.com\nb.com\nc.com\n"

	calls := 0
	accepted, _, err := ScanDomains(strings.NewReader(input), "test-input", func(domain string) error {
		calls++
		if calls == 2 {
			return errStop
		}
		return nil
	})
	if !errors.Is(err, errStop) {
		t.Fatalf("ScanDomains error = %v; want %v", err, errStop)
	}
	if calls != 2 {
		t.Errorf("callback called %d times; want 2 (scan must stop on error)", calls)
	}
	if accepted != 1 {
		t.Errorf("accepted = %d; want 1", accepted)
	}
}

// BenchmarkNormalizeDomainSimple measures performance for a common, simple domain.
// Goal: Establish baseline performance for the per-line input cost.
func BenchmarkNormalizeDomainSimple(b *testing.B) {
	domain := "www.example.com"
	// b.N is adjusted by the testing framework to achieve stable measurements.
	for i := 0; i < b.N; i++ {
		_, _ = NormalizeDomain(domain) // Assign to blank identifiers to prevent optimization removal.
	}
}

// BenchmarkNormalizeDomainMixedCaseTrailingDot measures performance for domains needing case and dot normalization.
func BenchmarkNormalizeDomainMixedCaseTrailingDot(b *testing.B) {
	domain := "Www.Example.COM."
	for i := 0; i < b.N; i++ {
		_, _ = NormalizeDomain(domain)
	}
}
