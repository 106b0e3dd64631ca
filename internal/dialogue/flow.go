package dialogue

// Features toggles the optional intake phases.
type Features struct {
	MotorIntake bool `json:"motor_intake"`
	AddonIntake bool `json:"addon_intake"`
}

type step struct {
	phase Phase
	next  func(view) *QuestionSpec
}

// flow is the ordered list of enabled intake phases followed by the checklist.
type flow struct {
	intake    []step
	checklist step
}

func newFlow(f Features) flow {
	fl := flow{
		intake:    []step{{PhaseDemographic, demographicNext}},
		checklist: step{PhaseIssuance, checklistNext},
	}
	if f.MotorIntake {
		fl.intake = append(fl.intake, step{PhaseMotor, motorNext})
		// Add-on eligibility depends on the cover type collected by motor intake.
		if f.AddonIntake {
			fl.intake = append(fl.intake, step{PhaseAddon, addonNext})
		}
	}
	return fl
}

func (f flow) first() Phase { return f.intake[0].phase }

// question returns the next question of phase, or nil when the phase is complete.
func (f flow) question(phase Phase, v view) *QuestionSpec {
	if phase == f.checklist.phase {
		return f.checklist.next(v)
	}
	for _, s := range f.intake {
		if s.phase == phase {
			return s.next(v)
		}
	}
	return nil
}

// after returns the intake phase following phase, if any.
func (f flow) after(phase Phase) (Phase, bool) {
	for i, s := range f.intake {
		if s.phase == phase && i+1 < len(f.intake) {
			return f.intake[i+1].phase, true
		}
	}
	return "", false
}

func (f flow) isIntake(phase Phase) bool {
	for _, s := range f.intake {
		if s.phase == phase {
			return true
		}
	}
	return false
}
