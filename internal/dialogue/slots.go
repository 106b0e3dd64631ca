package dialogue

import (
	"strconv"

	json "github.com/goccy/go-json"
)

// Value is a slot scalar: a number or a string.
type Value struct {
	Num    float64
	Str    string
	IsText bool
}

func Number(v float64) Value { return Value{Num: v} }
func Text(s string) Value    { return Value{Str: s, IsText: true} }

func (v Value) String() string {
	if v.IsText {
		return v.Str
	}
	return strconv.FormatFloat(v.Num, 'f', -1, 64)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsText {
		return json.Marshal(v.Str)
	}
	return json.Marshal(v.Num)
}

// Slots accumulates validated answers keyed by field name.
type Slots map[string]Value

func (s Slots) Has(field string) bool {
	_, ok := s[field]
	return ok
}

func (s Slots) Num(field string) (float64, bool) {
	v, ok := s[field]
	if !ok || v.IsText {
		return 0, false
	}
	return v.Num, true
}

// NumOr returns the numeric slot or fallback when unset.
func (s Slots) NumOr(field string, fallback float64) float64 {
	if v, ok := s.Num(field); ok {
		return v
	}
	return fallback
}

func (s Slots) Str(field string) string {
	v, ok := s[field]
	if !ok {
		return ""
	}
	return v.String()
}

// Yes reports whether a yes/no slot was answered Yes.
func (s Slots) Yes(field string) bool {
	v, ok := s.Num(field)
	return ok && v == 1
}

func (s Slots) Clone() Slots {
	out := make(Slots, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
