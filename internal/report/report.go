// Package report turns verdicts into the human- and machine-readable
// summaries the CLI and daemon hand back.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/codebatai/pf-verify/internal/domain"
)

// Report is the outward shape of a verification run: a pass flag, the
// reasons a failing run failed, and advisory warnings on a passing one.
type Report struct {
	Passed   bool     `json:"passed"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// keyExpiryWarning fires when a key used for verification expires within
// this horizon.
const keyExpiryWarning = 72 * time.Hour

// Build derives a report from a verdict. Reasons become errors on failure
// and are dropped on success; warnings come from the receipt and key
// material, never from the verdict itself.
func Build(verdict domain.Verdict, receipt domain.Receipt, keys *domain.KeySet, now time.Time) Report {
	r := Report{
		Passed:   verdict.Passed(),
		Errors:   []string{},
		Warnings: []string{},
	}
	if !r.Passed {
		r.Errors = append(r.Errors, verdict.Reasons...)
		return r
	}
	r.Warnings = append(r.Warnings, warnings(receipt, keys, now)...)
	return r
}

func warnings(receipt domain.Receipt, keys *domain.KeySet, now time.Time) []string {
	var out []string
	for _, sig := range receipt.Signatures {
		key, ok := keys.Lookup(sig.KeyID)
		if !ok || key.ValidUntil == nil {
			continue
		}
		left := key.ValidUntil.Sub(now)
		if left > 0 && left <= keyExpiryWarning {
			out = append(out, fmt.Sprintf("key %s expires at %s", key.KeyID, key.ValidUntil.UTC().Format(time.RFC3339)))
		}
	}
	if receipt.Transparency == nil {
		out = append(out, "receipt carries no transparency proof")
	}
	return out
}

// Markdown renders the report in the two-heading shape downstream tooling
// scrapes.
func (r Report) Markdown() string {
	var b strings.Builder
	if r.Passed {
		b.WriteString("## ✅ OEP-288 Receipt Verification Passed\n\n")
	} else {
		b.WriteString("## ❌ OEP-288 Receipt Verification Failed\n\n")
	}
	if len(r.Errors) > 0 {
		b.WriteString("### Errors\n")
		for _, e := range r.Errors {
			b.WriteString("- " + e + "\n")
		}
		b.WriteString("\n")
	}
	if len(r.Warnings) > 0 {
		b.WriteString("### Warnings\n")
		for _, w := range r.Warnings {
			b.WriteString("- " + w + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// JSON renders the RFC 8785 canonical form, so byte-identical reports mean
// identical verdicts.
func (r Report) JSON() ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}
