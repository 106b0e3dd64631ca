package dialogue

import (
	"math"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
)

// answer is one accepted intake answer as it is shown back to the user.
type answer struct {
	Phase   Phase  `json:"phase"`
	Field   string `json:"field"`
	Prompt  string `json:"prompt"`
	Display string `json:"display"`
}

func displayValue(q *QuestionSpec, v Value) string {
	if q.Kind == KindSelect && !v.IsText {
		for _, opt := range q.Options {
			if opt.Code == v.Num {
				return opt.Label
			}
		}
	}
	if !v.IsText && q.Kind == KindNumber && math.Abs(v.Num) >= 1000 {
		return formatAmount(v.Num)
	}
	return v.String()
}

// renderSummary renders the collected answers as a markdown table.
func renderSummary(answers []answer) string {
	var buf strings.Builder
	buf.WriteString("Here's what I have:\n\n")
	table := tablewriter.NewTable(&buf, tablewriter.WithRenderer(renderer.NewMarkdown()))
	table.Header("Question", "Answer")
	for _, a := range answers {
		_ = table.Append(a.Prompt, a.Display)
	}
	_ = table.Render()
	return strings.TrimRight(buf.String(), "\n")
}

// formatAmount renders v rounded to whole units with thousands separators.
func formatAmount(v float64) string {
	n := int64(math.Round(v))
	neg := n < 0
	if neg {
		n = -n
	}
	digits := strconv.FormatInt(n, 10)
	var out strings.Builder
	if neg {
		out.WriteByte('-')
	}
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out.WriteByte(',')
		}
		out.WriteRune(r)
	}
	return out.String()
}
