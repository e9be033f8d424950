package factcheck

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ClaimType is the category of a checkable claim
type ClaimType string

const (
	ClaimStatistic  ClaimType = "statistic"
	ClaimHistorical ClaimType = "historical"
	ClaimLegal      ClaimType = "legal"
	ClaimQuote      ClaimType = "quote"
	ClaimOther      ClaimType = "other"
)

// ParseClaimType maps unknown values to ClaimOther
func ParseClaimType(s string) ClaimType {
	switch ct := ClaimType(strings.ToLower(strings.TrimSpace(s))); ct {
	case ClaimStatistic, ClaimHistorical, ClaimLegal, ClaimQuote, ClaimOther:
		return ct
	default:
		return ClaimOther
	}
}

// VerdictCategory is the outcome of a verification
type VerdictCategory string

const (
	VerdictFact         VerdictCategory = "fact"
	VerdictPartial      VerdictCategory = "partial"
	VerdictFalse        VerdictCategory = "false"
	VerdictUnverifiable VerdictCategory = "unverifiable"
)

// ParseVerdictCategory maps unknown values to VerdictUnverifiable
func ParseVerdictCategory(s string) VerdictCategory {
	switch v := VerdictCategory(strings.ToLower(strings.TrimSpace(s))); v {
	case VerdictFact, VerdictPartial, VerdictFalse, VerdictUnverifiable:
		return v
	default:
		return VerdictUnverifiable
	}
}

// Source types reported by the verifier
const (
	SourceReference = "reference"
	SourceWebSearch = "web_search"
	SourceLLM       = "llm"
)

// Statement is one usable transcription
type Statement struct {
	ID        string
	Text      string
	Timestamp float64 // seconds since the run started
}

// NewStatement assigns a fresh short id
func NewStatement(text string, offset time.Duration) Statement {
	return Statement{
		ID:        ShortID(),
		Text:      text,
		Timestamp: offset.Seconds(),
	}
}

// ShortID returns the first 8 hex characters of a random UUID
func ShortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Classification decides whether a statement needs verification
type Classification struct {
	StatementID string
	NeedsCheck  bool
	ClaimType   ClaimType
	Reason      string
	Fallback    bool // response could not be parsed
}

// Verdict is the result of verifying a statement
type Verdict struct {
	StatementID   string
	StatementText string
	Category      VerdictCategory
	Confidence    float64
	Explanation   string
	SourceType    string
	Sources       []string
	Fallback      bool // response could not be parsed
}

// ClampConfidence bounds c to [0, 1]
func ClampConfidence(c float64) float64 {
	if c != c { // NaN
		return 0
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
