package parse

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/xrev/internal/models"
)

const payload = `{
  "overall_score": 7.5,
  "files": [
    {"path": "app.py", "score": 7.0, "issues": []}
  ],
  "top_issues": [
    {"file": "app.py", "line": 12, "severity": "HIGH", "issue": "SQL built by string concatenation", "fix": "use parameterized queries"},
    {"file": "util.py", "line": 3, "severity": "LOW", "description": "unused import"}
  ]
}`

func TestParse_StructuredWrappings(t *testing.T) {
	wrappings := map[string]string{
		"bare":               payload,
		"fenced":             "Here is my review:\n```json\n" + payload + "\n```\nLet me know.",
		"narrative-prefixed": "I reviewed the files carefully. Overall the code is decent.\n\n" + payload,
		"narrative-suffixed": payload + "\n\nThat concludes the review.",
	}

	for name, raw := range wrappings {
		t.Run(name, func(t *testing.T) {
			res := Parse(raw)
			require.NotNil(t, res)
			assert.Equal(t, models.ConfidenceStrict, res.Confidence)
			assert.True(t, res.HasScore)
			assert.InDelta(t, 7.5, res.Score, 1e-9)
			require.Len(t, res.Issues, 2)

			assert.Equal(t, "app.py", res.Issues[0].File)
			assert.Equal(t, 12, res.Issues[0].Line)
			assert.Equal(t, models.SeverityHigh, res.Issues[0].Severity)
			assert.Equal(t, "SQL built by string concatenation", res.Issues[0].Description)
			assert.Equal(t, "use parameterized queries", res.Issues[0].Recommendation)

			assert.Equal(t, models.SeverityLow, res.Issues[1].Severity)
			assert.InDelta(t, 7.0, res.FileScores["app.py"], 1e-9)
		})
	}
}

func TestParse_ObjectAfterNarrativeWithEmbeddedExample(t *testing.T) {
	// The instructions echoed back by the reviewer contain an example object;
	// the real result is appended at the end. The first-to-last brace span is
	// not decodable, so the last-opening-brace span must win.
	raw := `I was asked to output JSON like {"overall_score": 0.0} but with real data.
After analysis, here is the result:
` + `{"overall_score": 6.0, "top_issues": [{"severity": "MEDIUM", "issue": "no input validation"}]}`

	res := Parse(raw)
	assert.Equal(t, models.ConfidenceStrict, res.Confidence)
	assert.InDelta(t, 6.0, res.Score, 1e-9)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "no input validation", res.Issues[0].Description)
}

func TestParse_PerFileIssuesWhenTopLevelEmpty(t *testing.T) {
	raw := `{
  "overall_score": 8.0,
  "files": [
    {"path": "main.go", "score": 8.0, "issues": [
      {"severity": "MEDIUM", "line": 40, "description": "error ignored"}
    ]}
  ]
}`
	res := Parse(raw)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "main.go", res.Issues[0].File)
	assert.Equal(t, 40, res.Issues[0].Line)
}

func TestParse_CriticalIssuesFieldAccepted(t *testing.T) {
	raw := `{"overall_score": 4.2, "critical_issues": [
		{"file": "trainer.py", "line": 88, "severity": "CRITICAL", "issue": "device is hard-coded to cuda:0"}
	]}`
	res := Parse(raw)
	assert.InDelta(t, 4.2, res.Score, 1e-9)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, models.SeverityCritical, res.Issues[0].Severity)
}

func TestParse_HeuristicFallback(t *testing.T) {
	raw := `The code is in reasonable shape.

File main.py — score: 6/10
File model.py — score 8.0/10

- HIGH: model weights are loaded without checksum validation
- MEDIUM: training loop never calls eval mode
LOW: inconsistent naming in utils
Some closing commentary.`

	res := Parse(raw)
	assert.Equal(t, models.ConfidenceHeuristic, res.Confidence)
	assert.True(t, res.HasScore)
	assert.InDelta(t, 7.0, res.Score, 1e-9) // mean of 6 and 8

	require.Len(t, res.Issues, 3)
	assert.Equal(t, models.SeverityHigh, res.Issues[0].Severity)
	assert.Zero(t, res.Issues[0].Line)
	assert.Equal(t, "inconsistent naming in utils", res.Issues[2].Description)
}

func TestParse_HeuristicCapsAtFiveIssues(t *testing.T) {
	raw := ""
	for i := 0; i < 9; i++ {
		raw += fmt.Sprintf("HIGH: issue number %d\n", i)
	}
	res := Parse(raw)
	assert.Len(t, res.Issues, 5)
}

func TestParse_NeverFailsAndScoreInRange(t *testing.T) {
	inputs := []string{
		"",
		"complete nonsense with no structure at all",
		"{not json at all",
		"{}",
		`{"unrelated": true}`,
		"score: 99/10",
		"```json\ngarbage\n```",
		"{\"overall_score\": -3, \"issues\": [{\"severity\": \"HIGH\"}]}",
	}
	for _, raw := range inputs {
		res := Parse(raw)
		require.NotNil(t, res, "input %q", raw)
		assert.GreaterOrEqual(t, res.Score, 0.0, "input %q", raw)
		assert.LessOrEqual(t, res.Score, 10.0, "input %q", raw)
	}
}

func TestParse_UnknownScoreDefaultsWithoutClaimingOne(t *testing.T) {
	res := Parse("nothing numeric here")
	assert.Equal(t, models.ConfidenceHeuristic, res.Confidence)
	assert.False(t, res.HasScore)
	assert.InDelta(t, 5.0, res.Score, 1e-9)
}

func TestParse_EmptyObjectFallsThroughToHeuristic(t *testing.T) {
	// A JSON object that matches nothing in the schema must not short-circuit
	// the chain with an empty strict result.
	res := Parse(`{"summary": "fine"} score: 9/10`)
	assert.Equal(t, models.ConfidenceHeuristic, res.Confidence)
	assert.InDelta(t, 9.0, res.Score, 1e-9)
}

func TestParseSeverity_Normalization(t *testing.T) {
	assert.Equal(t, models.SeverityCritical, models.ParseSeverity("critical"))
	assert.Equal(t, models.SeverityHigh, models.ParseSeverity(" High "))
	assert.Equal(t, models.SeverityMedium, models.ParseSeverity("???"))
	assert.Equal(t, models.SeverityLow, models.ParseSeverity("LOW"))
}
