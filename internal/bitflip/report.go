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

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/x-stp/bitsquat/internal/tldset"

	"github.com/zeebo/xxh3"
)

// Options configures report building.
type Options struct {
	// ShowInvalid includes non-registrable TLD candidates in the report,
	// each flagged Registrable=false. Default false: only registrable
	// variants are retained.
	ShowInvalid bool
	// TldOnly skips name analysis entirely.
	TldOnly bool
}

// TldVariant is one classified bit-flip candidate for the TLD label.
type TldVariant struct {
	Candidate   string `json:"candidate"`
	Registrable bool   `json:"registrable"`
}

// Report is the per-domain audit result. All slices are in enumeration
// order (character position outer, bit position inner); renderers that want
// lexicographic display sort copies.
type Report struct {
	Domain         string       `json:"domain"`
	Name           string       `json:"name"`
	Tld            string       `json:"tld,omitempty"`
	TldVariants    []TldVariant `json:"tld_variants,omitempty"`
	NameCandidates []string     `json:"name_candidates,omitempty"`

	// TldConsidered counts every alphabet-valid TLD candidate that was
	// classified, independent of ShowInvalid filtering.
	TldConsidered int `json:"tld_candidates_considered"`
}

// BuildReport runs the full enumeration for one domain: split the domain,
// flip the TLD label and classify each candidate against ref, then flip the
// name label and re-join each variant with the original TLD.
//
// Degenerate inputs degrade, never fail: an empty domain produces an empty
// report, a dotless domain produces a name-only report with zero TLD
// candidates.
func BuildReport(domain string, ref *tldset.Set, opts Options) *Report {
	name, tld := SplitDomain(domain)
	r := &Report{
		Domain: domain,
		Name:   name,
		Tld:    tld,
	}

	for _, candidate := range LabelVariants(tld) {
		if candidate == tld {
			// Unreachable: a flip always changes the byte. Kept as an
			// explicit invariant since the original TLD must never be
			// reported as its own variant.
			continue
		}
		r.TldConsidered++
		registrable := ref.Contains(candidate)
		if !registrable && !opts.ShowInvalid {
			continue
		}
		r.TldVariants = append(r.TldVariants, TldVariant{
			Candidate:   candidate,
			Registrable: registrable,
		})
	}

	if !opts.TldOnly {
		// Non-nil even when empty so renderers can tell "analysis ran,
		// zero candidates" apart from "analysis skipped".
		r.NameCandidates = []string{}
		for _, variant := range LabelVariants(name) {
			r.NameCandidates = append(r.NameCandidates, joinDomain(variant, tld))
		}
	}

	return r
}

// joinDomain re-forms a full domain from a name variant and the original
// TLD. A domain that never had a TLD stays TLD-less.
func joinDomain(name, tld string) string {
	if tld == "" {
		return name
	}
	return name + "." + tld
}

// RegistrableCount returns how many TLD variants in the report are
// registrable.
func (r *Report) RegistrableCount() int {
	n := 0
	for _, v := range r.TldVariants {
		if v.Registrable {
			n++
		}
	}
	return n
}

// RegistrableDomains returns the registrable TLD variants as full domains
// ("name.candidate"), in enumeration order.
func (r *Report) RegistrableDomains() []string {
	var out []string
	for _, v := range r.TldVariants {
		if v.Registrable {
			out = append(out, joinDomain(r.Name, v.Candidate))
		}
	}
	return out
}

// unregistrableTlds returns the candidate TLD strings flagged not
// registrable, used by the text renderer.
func (r *Report) unregistrableTlds() []string {
	var out []string
	for _, v := range r.TldVariants {
		if !v.Registrable {
			out = append(out, v.Candidate)
		}
	}
	return out
}

// ReportHash calculates a NON-CRYPTOGRAPHIC xxh3 identity for the report:
// the domain plus its sorted registrable and name candidates. Two runs over
// the same input and reference set produce the same hash, so reports can be
// diffed across scans by this column alone.
func (r *Report) ReportHash() string {
	registrable := r.RegistrableDomains()
	sort.Strings(registrable)
	names := make([]string, len(r.NameCandidates))
	copy(names, r.NameCandidates)
	sort.Strings(names)

	var sb strings.Builder
	sb.Grow(len(r.Domain) + 16*(len(registrable)+len(names)))
	sb.WriteString(r.Domain)
	sb.WriteByte('|')
	for i, d := range registrable {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(d)
	}
	sb.WriteByte('|')
	for i, d := range names {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(d)
	}
	return fmt.Sprintf("%x", xxh3.HashString(sb.String()))
}

// CSVHeader is the header row matching ToCSVLine.
const CSVHeader = "index,domain,name,tld,registrable_tlds,invalid_tlds,name_variants,report_hash\n"

// ToCSVLine renders the report as a single CSV row. List cells are quoted
// and comma-joined; the invalid_tlds cell is populated only when the report
// was built with ShowInvalid.
func (r *Report) ToCSVLine(index int64) string {
	var registrable, invalid []string
	for _, v := range r.TldVariants {
		if v.Registrable {
			registrable = append(registrable, v.Candidate)
		} else {
			invalid = append(invalid, v.Candidate)
		}
	}
	return fmt.Sprintf("%d,%s,%s,%s,%s,%s,%s,%s\n",
		index,
		quoteCSV(r.Domain),
		quoteCSV(r.Name),
		quoteCSV(r.Tld),
		quoteCSV(strings.Join(registrable, ",")),
		quoteCSV(strings.Join(invalid, ",")),
		quoteCSV(strings.Join(r.NameCandidates, ",")),
		r.ReportHash(),
	)
}

// quoteCSV wraps a cell in double quotes, doubling any embedded quotes.
// Inputs are normalized domain text so this rarely fires, but the output
// must stay parseable even for hostile input lines.
func quoteCSV(cell string) string {
	if strings.ContainsAny(cell, "\",\n") {
		cell = strings.ReplaceAll(cell, "\"", "\"\"")
	}
	return "\"" + cell + "\""
}

// ToJSONLine renders the report as a single JSON document plus newline.
func (r *Report) ToJSONLine() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal report for %q: %w", r.Domain, err)
	}
	return string(data) + "\n", nil
}

// maxInvalidShown caps how many unregistrable TLD candidates the text
// renderer lists before eliding the rest.
const maxInvalidShown = 10

const sectionRule = "----------------------------------------------------------------------"

// HeaderText is the banner a text-format output starts with, written once
// per destination before any reports.
const HeaderText = "Bit-Flip Domain Analysis\n" +
	"======================================================================\n"

// ToText renders the report as a human-readable section in the style of the
// summary output: a registrable-TLD block, an optional invalid-TLD block
// (capped at maxInvalidShown entries), and a name-variant block. Lists are
// sorted for display; the underlying report keeps enumeration order.
func (r *Report) ToText() string {
	var sb strings.Builder

	sb.WriteString("\n")
	sb.WriteString(r.Domain)
	sb.WriteString("\n======================================================================\n")

	if r.Tld == "" {
		sb.WriteString("\n[1] TLD bit-flips: no TLD present (no dot in input), zero candidates\n")
	} else {
		fmt.Fprintf(&sb, "\n[1] TLD bit-flips (original TLD: .%s)\n%s\n", r.Tld, sectionRule)

		registrable := r.RegistrableDomains()
		sort.Strings(registrable)
		if len(registrable) > 0 {
			fmt.Fprintf(&sb, "\n  registrable bit-flipped TLDs (%d):\n", len(registrable))
			for _, d := range registrable {
				fmt.Fprintf(&sb, "    -> %s\n", d)
			}
		} else {
			sb.WriteString("\n  no registrable bit-flipped TLDs found\n")
		}

		if invalid := r.unregistrableTlds(); len(invalid) > 0 {
			sort.Strings(invalid)
			fmt.Fprintf(&sb, "\n  unregistrable TLD variants (%d):\n", len(invalid))
			shown := invalid
			if len(shown) > maxInvalidShown {
				shown = shown[:maxInvalidShown]
			}
			for _, tld := range shown {
				fmt.Fprintf(&sb, "    -> .%s\n", tld)
			}
			if rest := len(invalid) - len(shown); rest > 0 {
				fmt.Fprintf(&sb, "    ... and %d more\n", rest)
			}
		}
	}

	if r.NameCandidates != nil {
		fmt.Fprintf(&sb, "\n[2] name bit-flips (original name: %s)\n%s\n", r.Name, sectionRule)
		if len(r.NameCandidates) == 0 {
			sb.WriteString("\n  no name variants generated\n")
		} else {
			names := make([]string, len(r.NameCandidates))
			copy(names, r.NameCandidates)
			sort.Strings(names)
			fmt.Fprintf(&sb, "\n  bit-flipped names (%d):\n", len(names))
			for _, d := range names {
				fmt.Fprintf(&sb, "    -> %s\n", d)
			}
		}
	}

	return sb.String()
}
