package provider

import (
	"fmt"
	"strings"
)

// BuildReviewPrompt generates the structured review request sent to every
// provider. Asking all providers for the same JSON shape keeps their
// outputs comparable for consensus matching; providers that ignore the
// format are still usable through the heuristic parse fallback.
func BuildReviewPrompt(files []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Review these source files: %s\n\n", strings.Join(files, ", "))

	b.WriteString("For EACH file, provide:\n")
	b.WriteString("1. Code quality score (0-10)\n")
	b.WriteString("2. Issues with severity (CRITICAL/HIGH/MEDIUM/LOW) and exact line numbers\n")
	b.WriteString("3. Specific recommendations\n\n")

	b.WriteString("Then provide an overall assessment with the top 5 most critical issues to fix.\n\n")

	b.WriteString("Output VALID JSON only:\n")
	b.WriteString(`{
  "files": [
    {
      "path": "filename",
      "score": 7.0,
      "issues": [
        {"severity": "HIGH", "line": 10, "description": "...", "recommendation": "..."}
      ]
    }
  ],
  "overall_score": 7.0,
  "top_issues": [
    {"file": "filename", "line": 10, "severity": "HIGH", "issue": "...", "fix": "..."}
  ]
}`)

	return b.String()
}
