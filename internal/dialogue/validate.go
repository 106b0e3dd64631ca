package dialogue

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	msgInvalidOption  = "Please select a valid option."
	msgInvalidNumber  = "Please enter a valid number."
	msgInvalidEmail   = "That email does not look valid. Please enter a valid email address."
	msgWeakPassword   = "Password should be at least 6 characters. Please enter a stronger password."
	minPasswordLength = 6
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Validate checks raw input against q. It returns the value to store, or a
// non-empty rejection message.
func Validate(q *QuestionSpec, raw string) (Value, string) {
	input := strings.TrimSpace(raw)
	switch q.Kind {
	case KindSelect:
		return validateSelect(q, input)
	case KindNumber:
		return validateNumber(q, input)
	default:
		return validateText(q, input)
	}
}

func validateSelect(q *QuestionSpec, input string) (Value, string) {
	for _, opt := range q.Options {
		if strings.EqualFold(opt.Label, input) {
			if q.Textual {
				return Text(opt.Label), ""
			}
			return Number(opt.Code), ""
		}
	}
	return Value{}, msgInvalidOption
}

func validateNumber(q *QuestionSpec, input string) (Value, string) {
	n, ok := ParseNumber(input)
	if !ok {
		return Value{}, msgInvalidNumber
	}
	if q.Check != nil && !q.Check(n) {
		if q.CheckMessage != "" {
			return Value{}, q.CheckMessage
		}
		return Value{}, msgInvalidNumber
	}
	return Number(n), ""
}

func validateText(q *QuestionSpec, input string) (Value, string) {
	switch q.Rule {
	case RuleEmail:
		if !emailPattern.MatchString(input) {
			return Value{}, msgInvalidEmail
		}
	case RulePassword:
		if utf8.RuneCountInString(input) < minPasswordLength {
			return Value{}, msgWeakPassword
		}
	}
	return Text(input), ""
}

// ParseNumber accepts "45,000" style input and rejects NaN and infinities.
func ParseNumber(input string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if r == ',' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, input)
	if cleaned == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
