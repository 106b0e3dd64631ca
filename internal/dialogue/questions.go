package dialogue

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"quotebot/internal/models"
)

// view is the read-only input of every next-question function.
type view struct {
	slots   Slots
	catalog *models.MotorReference
	quote   *models.QuoteResult
	now     time.Time
}

// Auth gate prompts.
var (
	accountQuestion = selectQuestion("has_account", "Do you already have an account with us?", []Option{
		{Label: "Yes, I have an account", Code: 1},
		{Label: "No, register me quickly", Code: 0},
	})
	nameQuestion     = &QuestionSpec{Field: "name", Prompt: "Let's create your account. What's your full name?", Kind: KindText, Rule: RuleName}
	emailQuestion    = &QuestionSpec{Field: "email", Prompt: "Thanks! What email should we use for your account?", Kind: KindText, Rule: RuleEmail}
	passwordQuestion = &QuestionSpec{Field: "password", Prompt: "Great. Please choose a password for your account.", Kind: KindText, Rule: RulePassword, Secret: true}
)

var demographicQuestions = []*QuestionSpec{
	numberQuestion("AGE", "How old are you?", between(16, 100), "Please enter an age between 16 and 100."),
	selectQuestion("GENDER", "What is your gender?", []Option{{Label: "Female", Code: 0}, {Label: "Male", Code: 1}}),
	selectQuestion("MSTATUS", "What is your marital status?", []Option{{Label: "Single", Code: 0}, {Label: "Married", Code: 1}}),
	numberQuestion("KIDSDRIV", "How many of your children (if any) drive your car?", between(0, 10), "Please enter a number between 0 and 10."),
	numberQuestion("HOMEKIDS", "How many children live at home with you?", between(0, 10), "Please enter a number between 0 and 10."),
	numberQuestion("YOJ", "How many years have you been at your current job?", between(0, 60), "Please enter a number of years between 0 and 60."),
	numberQuestion("INCOME", "What is your annual income (KES)?", atLeast(0), "Income cannot be negative."),
	numberQuestion("HOME_VAL", "What is the value of your home (KES)? Enter 0 if you don't own one.", atLeast(0), "Home value cannot be negative."),
	selectQuestion("EDUCATION", "What is your highest level of education?", labels("High School", "Bachelors", "Masters", "PhD")),
	selectQuestion("OCCUPATION", "What is your occupation?", labels(
		"Professional", "Manager", "Clerical", "Blue Collar", "Student", "Home Maker", "Doctor", "Lawyer", "Other")),
	numberQuestion("MVR_PTS", "How many motor vehicle record (demerit) points do you have?", between(0, 20), "Please enter a number between 0 and 20."),
	selectQuestion("REVOKED", "Has your driving licence ever been revoked?", []Option{{Label: "No", Code: 0}, {Label: "Yes", Code: 1}}),
}

func demographicNext(v view) *QuestionSpec {
	for _, q := range demographicQuestions {
		if !v.slots.Has(q.Field) {
			return q
		}
	}
	return nil
}

const coverComprehensive = "Comprehensive"

var carTypes = []Option{
	{Label: "Sedan", Code: 1},
	{Label: "SUV", Code: 2},
	{Label: "Minivan", Code: 3},
	{Label: "Sports Car", Code: 4},
	{Label: "Van", Code: 5},
	{Label: "Pickup", Code: 6},
}

func motorNext(v view) *QuestionSpec {
	catalog := withDefaults(v.catalog)
	s := v.slots
	year := v.now.Year()
	switch {
	case !s.Has("vehicle_category"):
		return textualSelect("vehicle_category", "What is your vehicle category?", catalog.VehicleCategories)
	case !s.Has("cover_type"):
		return textualSelect("cover_type", "Which cover type would you like?", catalog.CoverTypes)
	case !s.Has("term_months"):
		return selectQuestion("term_months", "How many months should the cover run?", termOptions(catalog.Terms))
	case isComprehensive(s) && !s.Has("coverage_vehicle_value"):
		return numberQuestion("coverage_vehicle_value", "What is the current value of your vehicle (KES)?",
			positive, "Please provide a valid positive number.")
	case !s.Has("coverage_vehicle_year"):
		return numberQuestion("coverage_vehicle_year", "What year was your vehicle manufactured?",
			between(1970, float64(year)), fmt.Sprintf("Please enter a year between 1970 and %d.", year))
	case !s.Has("car_type"):
		return selectQuestion("car_type", "What type of car is it?", carTypes)
	case !s.Has("commute_minutes"):
		return numberQuestion("commute_minutes", "How many minutes is your typical commute?",
			between(0, 300), "Please enter a commute between 0 and 300 minutes.")
	case !s.Has("urbanicity"):
		return selectQuestion("urbanicity", "Do you mostly drive in an urban or rural area?",
			[]Option{{Label: "Urban", Code: 1}, {Label: "Rural", Code: 0}})
	case !s.Has("claims_count"):
		return numberQuestion("claims_count", "How many claims have you made in the past 5 years?",
			between(0, 10), "Please enter a number between 0 and 10.")
	case !s.Has("claims_amount"):
		return numberQuestion("claims_amount", "What was the total amount of those claims (KES)? Enter 0 if none.",
			atLeast(0), "Claims amount cannot be negative.")
	case !s.Has("car_age"):
		return numberQuestion("car_age", "How old is the car in years?", between(0, 50), "Please enter a car age between 0 and 50.")
	}
	return nil
}

func isComprehensive(s Slots) bool {
	return strings.EqualFold(s.Str("cover_type"), coverComprehensive)
}

// withDefaults fills the parts of the catalog the reference endpoint left empty.
func withDefaults(ref *models.MotorReference) *models.MotorReference {
	def := models.DefaultMotorReference()
	if ref == nil {
		return def
	}
	out := *ref
	if len(out.VehicleCategories) == 0 {
		out.VehicleCategories = def.VehicleCategories
	}
	if len(out.CoverTypes) == 0 {
		out.CoverTypes = def.CoverTypes
	}
	if len(out.Terms) == 0 {
		out.Terms = def.Terms
	}
	return &out
}

const addonDecisionField = "addon_decision"

type EligibleAddon struct {
	Key string
	models.Addon
}

func addonField(key string) string  { return "addon:" + key }
func amountField(key string) string { return key + "_sum_insured" }

// EligibleAddons filters the catalog by cover type and vehicle category, in key order.
func EligibleAddons(ref *models.MotorReference, coverType, category string) []EligibleAddon {
	if ref == nil {
		return nil
	}
	keys := make([]string, 0, len(ref.Addons))
	for k := range ref.Addons {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []EligibleAddon
	for _, k := range keys {
		a := ref.Addons[k]
		if len(a.AllowedCoverTypes) > 0 && !containsFold(a.AllowedCoverTypes, coverType) {
			continue
		}
		if len(a.AllowedCategories) > 0 && !containsFold(a.AllowedCategories, category) {
			continue
		}
		out = append(out, EligibleAddon{Key: k, Addon: a})
	}
	return out
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func addonNext(v view) *QuestionSpec {
	s := v.slots
	eligible := EligibleAddons(v.catalog, s.Str("cover_type"), s.Str("vehicle_category"))
	if len(eligible) == 0 {
		return nil
	}
	if !s.Has(addonDecisionField) {
		return selectQuestion(addonDecisionField, "Would you like to add any optional benefits?", yesNo())
	}
	if !s.Yes(addonDecisionField) {
		return nil
	}
	for _, a := range eligible {
		field := addonField(a.Key)
		if !s.Has(field) {
			return selectQuestion(field, fmt.Sprintf("Add %s?", a.Label), yesNo())
		}
		if s.Yes(field) && a.RequiresAmount && !s.Has(amountField(a.Key)) {
			return sumInsuredQuestion(a, s)
		}
	}
	return nil
}

func sumInsuredQuestion(a EligibleAddon, s Slots) *QuestionSpec {
	prompt := fmt.Sprintf("What sum insured would you like for %s (KES)?", a.Label)
	q := numberQuestion(amountField(a.Key), prompt, positive, "Please provide a valid positive number.")
	value, ok := s.Num("coverage_vehicle_value")
	if !ok || value <= 0 || a.Limits == nil || a.Limits.Type != models.LimitPercentOfVehicleValue {
		return q
	}
	maxPct := a.Limits.MaxPct
	if maxPct == 0 {
		maxPct = 100
	}
	lo := value * a.Limits.MinPct / 100
	hi := value * maxPct / 100
	q.Check = func(n float64) bool { return n > 0 && n >= lo && n <= hi }
	q.CheckMessage = fmt.Sprintf("%s must be between KES %s and KES %s (%s%% to %s%% of the vehicle value).",
		a.Label, formatAmount(lo), formatAmount(hi), trimFloat(a.Limits.MinPct), trimFloat(maxPct))
	return q
}

var checklistQuestions = []struct {
	spec *QuestionSpec
	when func(*models.QuoteResult) bool
}{
	{selectQuestion("full_premium_paid", "Has the full premium been paid?", yesNo()), nil},
	{selectQuestion("proposal_form_received", "Have you submitted the signed proposal form?", yesNo()), nil},
	{selectQuestion("valuation_done", "Has the vehicle valuation been done?", yesNo()),
		func(q *models.QuoteResult) bool { return q != nil && q.ValuationRequired }},
	{selectQuestion("mechanical_assessment_done", "Has the mechanical assessment been done?", yesNo()),
		func(q *models.QuoteResult) bool { return q != nil && q.MechanicalAssessmentRequired }},
}

func checklistNext(v view) *QuestionSpec {
	for _, item := range checklistQuestions {
		if item.when != nil && !item.when(v.quote) {
			continue
		}
		if !v.slots.Has(item.spec.Field) {
			return item.spec
		}
	}
	return nil
}

// Flags derives the issuance prerequisites from the checklist answers.
func Flags(s Slots) models.IssuanceFlags {
	return models.IssuanceFlags{
		FullPremiumPaid:          s.Yes("full_premium_paid"),
		ProposalFormReceived:     s.Yes("proposal_form_received"),
		ValuationDone:            s.Yes("valuation_done"),
		MechanicalAssessmentDone: s.Yes("mechanical_assessment_done"),
	}
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
