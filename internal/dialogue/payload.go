package dialogue

import (
	"math"
	"sort"
	"strings"
	"time"

	"quotebot/internal/models"
)

// BuildPayload maps the collected slots onto the prediction feature payload.
// Features the dialogue did not ask for fall back to fixed defaults.
func BuildPayload(s Slots, now time.Time) models.QuoteRequest {
	year := float64(now.Year())

	birth := 0.0
	if age, ok := s.Num("AGE"); ok {
		birth = year - age
	}
	bluebook := 7000.0
	if v, ok := s.Num("coverage_vehicle_value"); ok && v > 0 {
		bluebook = math.Round(v / 150)
	}
	carAge := 5.0
	if v, ok := s.Num("car_age"); ok {
		carAge = v
	} else if y, ok := s.Num("coverage_vehicle_year"); ok {
		carAge = year - y
	}
	carUse := 0
	if s.Str("vehicle_category") == "Commercial" {
		carUse = 1
	}
	claims := s.NumOr("claims_amount", 0)

	payload := models.QuoteRequest{
		"ID":         0,
		"KIDSDRIV":   s.NumOr("KIDSDRIV", 0),
		"BIRTH":      birth,
		"AGE":        s.NumOr("AGE", 30),
		"HOMEKIDS":   s.NumOr("HOMEKIDS", 0),
		"YOJ":        s.NumOr("YOJ", 5),
		"INCOME":     s.NumOr("INCOME", 50000),
		"PARENT1":    0,
		"HOME_VAL":   s.NumOr("HOME_VAL", 0),
		"MSTATUS":    s.NumOr("MSTATUS", 0),
		"GENDER":     s.NumOr("GENDER", 0),
		"EDUCATION":  s.NumOr("EDUCATION", 0),
		"OCCUPATION": s.NumOr("OCCUPATION", 0),
		"TRAVTIME":   s.NumOr("commute_minutes", 20),
		"CAR_USE":    carUse,
		"BLUEBOOK":   bluebook,
		"TIF":        0,
		"CAR_TYPE":   s.NumOr("car_type", 0),
		"RED_CAR":    0,
		"OLDCLAIM":   claims,
		"CLM_FREQ":   s.NumOr("claims_count", 0),
		"REVOKED":    s.NumOr("REVOKED", 0),
		"MVR_PTS":    s.NumOr("MVR_PTS", 0),
		"CLM_AMT":    claims,
		"CAR_AGE":    carAge,
		"URBANICITY": s.NumOr("urbanicity", 0),

		"email_send": true,
		"attach_pdf": true,
	}

	if s.Has("vehicle_category") {
		payload["vehicle_category"] = s.Str("vehicle_category")
	}
	if s.Has("cover_type") {
		payload["cover_type"] = s.Str("cover_type")
	}
	if term, ok := s.Num("term_months"); ok {
		payload["term_months"] = term
	}
	coverage := map[string]any{}
	if v, ok := s.Num("coverage_vehicle_value"); ok {
		payload["vehicle_value"] = v
		coverage["vehicle_value"] = v
	}
	if y, ok := s.Num("coverage_vehicle_year"); ok {
		coverage["vehicle_year"] = y
	}
	if len(coverage) > 0 {
		payload["coverage"] = coverage
	}

	addons, amounts := selectedAddons(s)
	payload["add_ons"] = addons
	for k, v := range amounts {
		payload[k] = v
	}
	return payload
}

// selectedAddons returns the accepted add-on keys, sorted, and their sums insured.
func selectedAddons(s Slots) ([]string, map[string]float64) {
	keys := make([]string, 0)
	amounts := map[string]float64{}
	for field := range s {
		key, ok := strings.CutPrefix(field, addonField(""))
		if !ok || key == "" || !s.Yes(field) {
			continue
		}
		keys = append(keys, key)
		if v, ok := s.Num(amountField(key)); ok {
			amounts[amountField(key)] = v
		}
	}
	sort.Strings(keys)
	return keys, amounts
}

// BindCoverage is the coverage object sent with a bind request: the
// issuance flags plus the selected add-ons.
func BindCoverage(s Slots) map[string]any {
	flags := Flags(s)
	coverage := map[string]any{
		"full_premium_paid":          flags.FullPremiumPaid,
		"proposal_form_received":     flags.ProposalFormReceived,
		"valuation_done":             flags.ValuationDone,
		"mechanical_assessment_done": flags.MechanicalAssessmentDone,
	}
	addons, amounts := selectedAddons(s)
	if len(addons) > 0 {
		coverage["add_ons"] = addons
	}
	for k, v := range amounts {
		coverage[k] = v
	}
	if v, ok := s.Num("coverage_vehicle_value"); ok {
		coverage["vehicle_value"] = v
	}
	if s.Has("cover_type") {
		coverage["cover_type"] = s.Str("cover_type")
	}
	return coverage
}
