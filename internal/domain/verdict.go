package domain

type Outcome string

const (
	OutcomeValid            Outcome = "VALID"
	OutcomeInvalidSignature Outcome = "INVALID_SIGNATURE"
	OutcomePolicyDenied     Outcome = "POLICY_DENIED"
	OutcomeMalformedReceipt Outcome = "MALFORMED_RECEIPT"
)

// Verdict is the terminal result of one verification run. Reasons always
// explain the decision; SignatureChecked records whether a cryptographic
// comparison actually executed (false when the run died on structure or on
// key lookup).
type Verdict struct {
	Outcome          Outcome  `json:"outcome"`
	MatchedRuleID    string   `json:"matched_rule_id,omitempty"`
	Reasons          []string `json:"reasons"`
	SignatureChecked bool     `json:"signature_checked"`
}

func (v Verdict) Passed() bool { return v.Outcome == OutcomeValid }
