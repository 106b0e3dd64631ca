package models

const LimitPercentOfVehicleValue = "percent_of_vehicle_value"

// MotorReference is the catalog served by the reference endpoint.
type MotorReference struct {
	VehicleCategories []string         `json:"vehicle_categories"`
	CoverTypes        []string         `json:"cover_types"`
	Terms             []int            `json:"terms"`
	Addons            map[string]Addon `json:"addons"`
}

// Addon is an optional benefit with eligibility rules.
type Addon struct {
	Label             string       `json:"label"`
	AllowedCoverTypes []string     `json:"allowed_cover_types,omitempty"`
	AllowedCategories []string     `json:"allowed_categories,omitempty"`
	RequiresAmount    bool         `json:"requires_amount,omitempty"`
	Limits            *AddonLimits `json:"limits,omitempty"`
}

type AddonLimits struct {
	Type   string  `json:"type"`
	MinPct float64 `json:"min_pct"`
	MaxPct float64 `json:"max_pct"`
}

// DefaultMotorReference is used until the catalog loads or when it fails to.
func DefaultMotorReference() *MotorReference {
	return &MotorReference{
		VehicleCategories: []string{"Private", "Commercial"},
		CoverTypes:        []string{"TPO", "TPFT", "Comprehensive"},
		Terms:             []int{1, 3, 6, 12},
	}
}
