package factcheck

import "fmt"

const refineSystemPrompt = `You correct speech-to-text output from a live broadcast.

Tasks:
1. Fix typos, homophones and misrecognized proper nouns.
2. Correct words that were clearly misheard given the context.
3. Remove stutters and filler repetitions.
4. Add sentence punctuation.
5. Keep unclear passages as they are.

Rules:
- Never change the meaning.
- Never add content.
- Preserve every claim and key statement.
- Output only the corrected text, without explanation.`

const classifierSystemPrompt = `You decide whether a spoken statement is a factual claim that needs fact-checking.

Needs checking:
- specific figures or statistics
- historical facts
- laws, regulations or institutions
- quotes attributed to a specific person

Does not need checking:
- personal opinions or feelings
- greetings and moderation remarks
- value judgements
- predictions or speculation

Respond only with JSON in this form:
{
  "needs_check": true | false,
  "claim_type": "statistic" | "historical" | "legal" | "quote" | "other",
  "reason": "short justification"
}`

const verifierSystemPrompt = `You are a fact-checker.

Source selection:
- reference: only when the supplied reference material directly verifies the statement
- web_search: for recent news, statistics, figures and official announcements
- llm: only for common knowledge nobody would dispute

Ignore reference material that is unrelated to the statement.

Verdicts:
- fact: confirmed
- partial: partly right but with errors or exaggeration
- false: contradicts the facts
- unverifiable: cannot be confirmed

Respond only with JSON:
{
  "verdict": "fact" | "partial" | "false" | "unverifiable",
  "confidence": 0.0 to 1.0,
  "explanation": "concrete reasoning for the verdict",
  "source_type": "reference" | "web_search" | "llm",
  "sources": ["source (URL, document name, ...)"]
}`

func classifierUserPrompt(statement string) string {
	return fmt.Sprintf("Statement: %s", statement)
}

func verifierUserPrompt(statement, grounding string) string {
	if grounding == "" {
		return fmt.Sprintf("Statement: %s", statement)
	}
	return fmt.Sprintf("Statement: %s\n\n[Related reference material]\n%s", statement, grounding)
}
