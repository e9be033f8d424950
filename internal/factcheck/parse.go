package factcheck

import (
	"encoding/json"
	"strconv"
	"strings"
)

const (
	parseErrorReason      = "parse error"
	parseErrorExplanation = "failed to parse verification response"
	defaultConfidence     = 0.5
)

type classificationPayload struct {
	NeedsCheck any    `json:"needs_check"`
	ClaimType  string `json:"claim_type"`
	Reason     string `json:"reason"`
}

// ParseClassification decodes a classifier response. Malformed input yields a
// Fallback classification that does not need checking.
func ParseClassification(statementID, raw string) Classification {
	var p classificationPayload
	if err := json.Unmarshal([]byte(stripFences(raw)), &p); err != nil {
		return Classification{
			StatementID: statementID,
			NeedsCheck:  false,
			ClaimType:   ClaimOther,
			Reason:      parseErrorReason,
			Fallback:    true,
		}
	}

	return Classification{
		StatementID: statementID,
		NeedsCheck:  asBool(p.NeedsCheck),
		ClaimType:   ParseClaimType(p.ClaimType),
		Reason:      p.Reason,
	}
}

type verdictPayload struct {
	Verdict     string `json:"verdict"`
	Confidence  any    `json:"confidence"`
	Explanation string `json:"explanation"`
	SourceType  string `json:"source_type"`
	Sources     []any  `json:"sources"`
}

// ParseVerdict decodes a verifier response for stmt. Malformed input yields an
// unverifiable Fallback verdict with zero confidence.
func ParseVerdict(stmt Statement, raw string) Verdict {
	var p verdictPayload
	if err := json.Unmarshal([]byte(stripFences(raw)), &p); err != nil {
		return Verdict{
			StatementID:   stmt.ID,
			StatementText: stmt.Text,
			Category:      VerdictUnverifiable,
			Confidence:    0,
			Explanation:   parseErrorExplanation,
			Sources:       []string{},
			Fallback:      true,
		}
	}

	sourceType := strings.TrimSpace(p.SourceType)
	if sourceType == "" {
		sourceType = SourceWebSearch
	}

	sources := make([]string, 0, len(p.Sources))
	for _, s := range p.Sources {
		if str, ok := s.(string); ok && strings.TrimSpace(str) != "" {
			sources = append(sources, str)
		}
	}

	return Verdict{
		StatementID:   stmt.ID,
		StatementText: stmt.Text,
		Category:      ParseVerdictCategory(p.Verdict),
		Confidence:    ClampConfidence(asFloat(p.Confidence, defaultConfidence)),
		Explanation:   p.Explanation,
		SourceType:    sourceType,
		Sources:       sources,
	}
}

// stripFences removes markdown code fence lines around a JSON body
func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	lines := strings.Split(raw, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "```") {
			continue
		}
		kept = append(kept, l)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return err == nil && parsed
	default:
		return false
	}
}

func asFloat(v any, def float64) float64 {
	switch f := v.(type) {
	case float64:
		return f
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}
