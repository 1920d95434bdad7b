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
	"bufio"
	"fmt"
	"io"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/x-stp/bitsquat/internal/bitflip"
	"github.com/x-stp/bitsquat/internal/metrics"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"
)

// NormalizeDomain canonicalizes a raw input line into the lowercase ASCII form
// the bit-flip enumeration operates on. Unicode names are converted to their
// punycode (xn--) representation first, so flips always run over the bytes
// that would actually appear in DNS.
//
// Normalization steps, in order:
//  1. Trim surrounding whitespace and dots (accepts FQDN spellings like "example.com.").
//  2. Lowercase; non-ASCII input goes through the IDNA lookup mapping instead.
//  3. Reject anything that is not a well-formed hostname of LDH labels
//     (letters, digits, hyphen; no leading/trailing hyphen; 1-63 bytes per
//     label; 253 bytes total).
//
// Parameters:
//   - raw: one line of input, as read from a file or arguments.
//
// Returns:
//   - string: the normalized domain, empty on error.
//   - error: nil if the domain is usable for auditing.
func NormalizeDomain(raw string) (string, error) {
	s := strings.Trim(strings.TrimSpace(raw), ".")
	if s == "" {
		return "", fmt.Errorf("empty domain")
	}

	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		s = strings.ToLower(s)
	} else {
		// IDNA maps case and validates the Unicode label rules on the way.
		converted, err := idna.Lookup.ToASCII(s)
		if err != nil {
			return "", fmt.Errorf("punycode conversion of %q: %w", s, err)
		}
		s = strings.Trim(converted, ".")
	}

	if len(s) > MaxDomainLength {
		return "", fmt.Errorf("domain %q exceeds %d bytes", s, MaxDomainLength)
	}
	if _, ok := dns.IsDomainName(s); !ok {
		return "", fmt.Errorf("invalid domain name %q", s)
	}

	// miekg/dns accepts underscores and escapes; the audit alphabet does not.
	// Enforce plain LDH labels so every input byte is a legal flip target.
	for _, label := range strings.Split(s, ".") {
		if label == "" {
			return "", fmt.Errorf("empty label in %q", s)
		}
		if len(label) > MaxLabelLength {
			return "", fmt.Errorf("label %q exceeds %d bytes", label, MaxLabelLength)
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return "", fmt.Errorf("label %q starts or ends with a hyphen", label)
		}
		for i := 0; i < len(label); i++ {
			if !bitflip.InAlphabet(label[i]) {
				return "", fmt.Errorf("label %q contains byte %q outside [a-z0-9-]", label, label[i])
			}
		}
	}
	return s, nil
}

// ScanDomains reads domains line by line from r, normalizes each one, and
// invokes fn for every domain that survives normalization. Blank lines and
// lines starting with '#' are ignored. Invalid domains are logged, counted,
// and skipped; they never abort the scan. An error returned by fn stops the
// scan immediately and is returned as-is, so callers can propagate context
// cancellation out of the read loop.
//
// Parameters:
//   - r: the input stream (a file or stdin).
//   - source: name of the stream, used in logs and metric labels.
//   - fn: called once per accepted domain, in input order.
//
// Returns:
//   - accepted: number of domains handed to fn.
//   - skipped: number of malformed lines dropped.
//   - error: first fn error, or a read error from the underlying stream.
func ScanDomains(r io.Reader, source string, fn func(domain string) error) (accepted, skipped int64, err error) {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		domain, nerr := NormalizeDomain(line)
		if nerr != nil {
			skipped++
			log.Printf("Skipping line %d of %s: %v\n", lineNo, source, nerr)
			if metrics.IsMetricsEnabled() {
				metrics.GetMetrics().DomainsSkipped.WithLabelValues(source, "invalid").Inc()
			}
			continue
		}

		if ferr := fn(domain); ferr != nil {
			return accepted, skipped, ferr
		}
		accepted++
	}
	if serr := scanner.Err(); serr != nil {
		return accepted, skipped, fmt.Errorf("reading %s: %w", source, serr)
	}
	return accepted, skipped, nil
}
