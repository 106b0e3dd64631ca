package dialogue

import (
	"strconv"
	"strings"
)

type InputKind string

const (
	KindText   InputKind = "free-text"
	KindNumber InputKind = "numeric"
	KindSelect InputKind = "single-select"
)

type TextRule string

const (
	RuleNone     TextRule = ""
	RuleName     TextRule = "name"
	RuleEmail    TextRule = "email"
	RulePassword TextRule = "password"
)

type Option struct {
	Label string  `json:"label"`
	Code  float64 `json:"code"`
}

// QuestionSpec describes one prompt and how its answer is validated.
type QuestionSpec struct {
	Field   string    `json:"field"`
	Prompt  string    `json:"prompt"`
	Kind    InputKind `json:"kind"`
	Options []Option  `json:"options,omitempty"`
	// Secret answers are masked in the transcript.
	Secret bool `json:"secret,omitempty"`

	// Textual selects store the option label instead of its code.
	Textual      bool               `json:"-"`
	Check        func(float64) bool `json:"-"`
	CheckMessage string             `json:"-"`
	Rule         TextRule           `json:"-"`
}

func yesNo() []Option {
	return []Option{{Label: "Yes", Code: 1}, {Label: "No", Code: 0}}
}

func labels(values ...string) []Option {
	opts := make([]Option, len(values))
	for i, v := range values {
		opts[i] = Option{Label: v, Code: float64(i)}
	}
	return opts
}

func between(lo, hi float64) func(float64) bool {
	return func(v float64) bool { return v >= lo && v <= hi }
}

func atLeast(lo float64) func(float64) bool {
	return func(v float64) bool { return v >= lo }
}

func positive(v float64) bool { return v > 0 }

func numberQuestion(field, prompt string, check func(float64) bool, msg string) *QuestionSpec {
	return &QuestionSpec{Field: field, Prompt: prompt, Kind: KindNumber, Check: check, CheckMessage: msg}
}

func selectQuestion(field, prompt string, opts []Option) *QuestionSpec {
	return &QuestionSpec{Field: field, Prompt: prompt, Kind: KindSelect, Options: opts}
}

func textualSelect(field, prompt string, values []string) *QuestionSpec {
	q := selectQuestion(field, prompt, labels(values...))
	q.Textual = true
	return q
}

// promptText renders the prompt with the option labels appended.
func (q *QuestionSpec) promptText() string {
	if q.Kind != KindSelect || len(q.Options) == 0 {
		return q.Prompt
	}
	parts := make([]string, len(q.Options))
	for i, opt := range q.Options {
		parts[i] = opt.Label
	}
	return q.Prompt + " (" + strings.Join(parts, " / ") + ")"
}

func termOptions(terms []int) []Option {
	opts := make([]Option, len(terms))
	for i, t := range terms {
		opts[i] = Option{Label: strconv.Itoa(t), Code: float64(t)}
	}
	return opts
}
