package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

const systemPrompt = `You are an exam paper digitization assistant. You read a scanned exam page
and extract every question on it as structured JSON.

Rules:
- Extract only English-language, structurally complete questions.
- A question visibly cut off at the bottom of the page goes into
  "incomplete_question", never into "questions".
- Wrap every mathematical or chemical expression in $...$ inline-math
  delimiters.
- Mark correct answers ONLY when an explicit answer key appears on the page
  or the paired solution page. Never guess: when no answer is discoverable,
  leave every option's is_correct unset.
- Report per-question marks/duration only when the page itself states them.
- Report the subject, chapter, or topic names only when printed on the page.
- Respond with exactly one JSON object conforming to the provided schema.
  No commentary.`

// buildPrompt assembles the per-page user prompt, including carry-over
// fragment context and hint/solution toggles.
func buildPrompt(pageNum int, opts PageOptions) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Extract all questions from this exam page (page %d).\n", pageNum)

	if opts.SolutionPage != nil {
		sb.WriteString("The second image is the matching solutions page; use it to mark correct answers.\n")
	}
	if opts.WithHints {
		sb.WriteString("Include a short hint for each question when one can be read off the page.\n")
	}
	if opts.WithSolutions {
		sb.WriteString("Include the worked solution text when present.\n")
	}

	if opts.Carry != nil {
		carryJSON, _ := json.Marshal(opts.Carry)
		sb.WriteString("\nThe previous page ended with an incomplete question:\n")
		sb.Write(carryJSON)
		sb.WriteString("\nIf this page begins with its continuation, merge them into one complete question, " +
			"include it in \"questions\", and set \"continues_fragment\": true on it. " +
			"If this page does not continue it, ignore the fragment entirely.\n")
	}

	sb.WriteString("\nOutput schema:\n")
	sb.Write(responseSchema)

	return sb.String()
}
