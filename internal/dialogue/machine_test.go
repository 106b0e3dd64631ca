package dialogue_test

import (
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"quotebot/internal/dialogue"
	"quotebot/internal/insurer"
	"quotebot/internal/models"
)

var _ = Describe("Machine", func() {
	demographicOnly := dialogue.Features{}
	motorOnly := dialogue.Features{MotorIntake: true}
	withAddons := dialogue.Features{MotorIntake: true, AddonIntake: true}

	comprehensiveMotor := []string{"Private", "Comprehensive", "12", "1,500,000", "2018", "Sedan", "30", "Urban", "0", "0", "6"}
	thirdPartyMotor := []string{"Private", "TPO", "12", "2018", "Sedan", "30", "Urban", "0", "0", "6"}

	Describe("Open", func() {
		It("asks an anonymous visitor whether they have an account", func() {
			m := newMachine(demographicOnly, false)
			m.Open()

			Expect(m.Phase()).To(Equal(dialogue.PhaseAuthGate))
			Expect(m.AuthStage()).To(Equal(dialogue.AuthAsk))
			Expect(currentField(m)).To(Equal("has_account"))
			Expect(m.Messages()).To(HaveLen(2))
			Expect(m.Messages()[0].Text).To(Equal("To calculate a quote, I need you to be signed in."))
		})

		It("starts intake for a signed in visitor", func() {
			m := newMachine(demographicOnly, true)
			m.Open()

			Expect(m.Phase()).To(Equal(dialogue.PhaseDemographic))
			Expect(currentField(m)).To(Equal("AGE"))
			Expect(m.Messages()[0].Text).To(ContainSubstring("Hi Ann!"))
		})

		It("is a no-op the second time", func() {
			m := newMachine(demographicOnly, true)
			m.Open()
			count := len(m.Messages())

			Expect(m.Open()).To(BeEmpty())
			Expect(m.Messages()).To(HaveLen(count))
		})

		It("requests the motor catalog when motor intake is enabled", func() {
			m := newMachine(motorOnly, false)
			load, ok := effectOf[dialogue.LoadCatalog](m.Open())
			Expect(ok).To(BeTrue())
			Expect(load.Generation).To(Equal(m.Generation()))
		})
	})

	Describe("auth gate", func() {
		var m *dialogue.Machine

		BeforeEach(func() {
			m = newMachine(demographicOnly, false)
			m.Open()
		})

		It("hands off to the external login for existing accounts", func() {
			outcome, effects := m.Submit("yes, i have an account")

			Expect(outcome).To(Equal(dialogue.Accepted))
			_, ok := effectOf[dialogue.LoginHandoff](effects)
			Expect(ok).To(BeTrue())
			Expect(m.AuthStage()).To(Equal(dialogue.AuthHandoff))
			Expect(m.Current()).To(BeNil())
		})

		It("proceeds to intake once the handed-off login completes", func() {
			m.Submit("Yes, I have an account")
			m.UpdateSession(dialogue.SessionContext{Authenticated: true, AccessToken: "tok"})

			Expect(m.Phase()).To(Equal(dialogue.PhaseDemographic))
			Expect(currentField(m)).To(Equal("AGE"))
		})

		Context("registering a new account", func() {
			var register dialogue.Register

			BeforeEach(func() {
				answerAll(m, "No, register me quickly", "Ann Smith")

				outcome, _ := m.Submit("ann@")
				Expect(outcome).To(Equal(dialogue.Rejected))
				Expect(lastMessage(m)).To(Equal("That email does not look valid. Please enter a valid email address."))
				Expect(m.AuthStage()).To(Equal(dialogue.AuthEmail))

				answerAll(m, "ann@example.com")

				outcome, _ = m.Submit("12345")
				Expect(outcome).To(Equal(dialogue.Rejected))
				Expect(lastMessage(m)).To(ContainSubstring("at least 6 characters"))

				_, effects := answerAll(m, "secret1")
				var ok bool
				register, ok = effectOf[dialogue.Register](effects)
				Expect(ok).To(BeTrue())
			})

			It("emits the registration with the collected details", func() {
				Expect(register.Name).To(Equal("Ann Smith"))
				Expect(register.Email).To(Equal("ann@example.com"))
				Expect(register.Password).To(Equal("secret1"))
				Expect(m.AuthStage()).To(Equal(dialogue.AuthRegistering))
			})

			It("never echoes the password into the transcript", func() {
				for _, msg := range m.Messages() {
					Expect(msg.Text).NotTo(ContainSubstring("secret1"))
				}
			})

			It("drops input while registration is outstanding", func() {
				count := len(m.Messages())
				outcome, effects := m.Submit("hello?")

				Expect(outcome).To(Equal(dialogue.Dropped))
				Expect(effects).To(BeEmpty())
				Expect(m.Messages()).To(HaveLen(count))
			})

			It("starts demographic intake after a successful registration", func() {
				_, err := m.ApplyRegistration(register.Generation, dialogue.SessionContext{Authenticated: true, AccessToken: "new"}, nil)

				Expect(err).NotTo(HaveOccurred())
				Expect(m.Phase()).To(Equal(dialogue.PhaseDemographic))
				Expect(m.Session().Authenticated).To(BeTrue())
				Expect(currentField(m)).To(Equal("AGE"))
			})

			It("stays on the password step when registration fails", func() {
				_, err := m.ApplyRegistration(register.Generation, dialogue.SessionContext{},
					&insurer.APIError{Status: 409, Message: "Email already registered"})

				Expect(err).NotTo(HaveOccurred())
				Expect(m.AuthStage()).To(Equal(dialogue.AuthPassword))
				Expect(currentField(m)).To(Equal("password"))
				Expect(m.Messages()).To(ContainElement(HaveField("Text", ContainSubstring("I could not register you right now"))))
			})
		})
	})

	Describe("validation", func() {
		var m *dialogue.Machine

		BeforeEach(func() {
			m = newMachine(demographicOnly, true)
			m.Open()
		})

		It("rejects age 17 and accepts age 34", func() {
			outcome, _ := m.Submit("17")
			Expect(outcome).To(Equal(dialogue.Rejected))
			Expect(lastMessage(m)).To(Equal("Please enter an age between 16 and 100."))
			Expect(m.Slots().Has("AGE")).To(BeFalse())
			Expect(currentField(m)).To(Equal("AGE"))

			outcome, _ = m.Submit("34")
			Expect(outcome).To(Equal(dialogue.Accepted))
			Expect(m.Slots()["AGE"]).To(Equal(dialogue.Number(34)))
			Expect(currentField(m)).To(Equal("GENDER"))
		})

		DescribeTable("leaves slots and question untouched on rejection",
			func(prefix []string, input string, message string) {
				answerAll(m, prefix...)
				before := m.Slots()
				field := currentField(m)
				count := len(m.Messages())

				outcome, effects := m.Submit(input)

				Expect(outcome).To(Equal(dialogue.Rejected))
				Expect(effects).To(BeEmpty())
				Expect(m.Slots()).To(Equal(before))
				Expect(currentField(m)).To(Equal(field))
				Expect(m.Messages()).To(HaveLen(count + 2))
				Expect(lastMessage(m)).To(Equal(message))
			},
			Entry("non-numeric age", []string{}, "thirty", "Please enter a valid number."),
			Entry("unknown select option", []string{"34"}, "Maybe", "Please select a valid option."),
			Entry("out of range kids", []string{"34", "Male", "Married"}, "11", "Please enter a number between 0 and 10."),
			Entry("negative income", []string{"34", "Male", "Married", "1", "1", "3"}, "-5", "Income cannot be negative."),
		)

		It("answers knowledge-base questions and re-offers the same question", func() {
			outcome, _ := m.Submit("What is a premium?")

			Expect(outcome).To(Equal(dialogue.Answered))
			msgs := m.Messages()
			Expect(msgs[len(msgs)-2].Text).To(Equal("A premium is the amount you pay (monthly/annually) to stay insured."))
			Expect(lastMessage(m)).To(Equal("How old are you?"))
			Expect(m.Slots()).To(BeEmpty())
			Expect(currentField(m)).To(Equal("AGE"))
		})

		It("does not consult the knowledge base for select questions", func() {
			answerAll(m, "34")
			outcome, _ := m.Submit("privacy")
			Expect(outcome).To(Equal(dialogue.Rejected))
		})

		It("ignores blank input", func() {
			count := len(m.Messages())
			outcome, _ := m.Submit("   ")
			Expect(outcome).To(Equal(dialogue.Ignored))
			Expect(m.Messages()).To(HaveLen(count))
		})

		It("restarts from the first question when a reload loses the answers", func() {
			reloaded := newMachine(demographicOnly, true)
			reloaded.Open()

			outcome, _ := reloaded.Submit(demographicAnswers[len(demographicAnswers)-1])

			Expect(outcome).To(Equal(dialogue.Rejected))
			Expect(reloaded.Phase()).To(Equal(dialogue.PhaseDemographic))
			Expect(currentField(reloaded)).To(Equal("AGE"))
		})
	})

	Describe("phase lengths", func() {
		It("completes demographic intake after exactly 12 answers", func() {
			m := newMachine(demographicOnly, true)
			m.Open()

			n, effects := answerAll(m, demographicAnswers...)

			Expect(n).To(Equal(12))
			Expect(m.Phase()).To(Equal(dialogue.PhaseQuote))
			Expect(m.Busy()).To(BeTrue())
			Expect(m.Current()).To(BeNil())
			req, ok := effectOf[dialogue.RequestQuote](effects)
			Expect(ok).To(BeTrue())
			Expect(req.Payload["AGE"]).To(Equal(34.0))
			Expect(req.Payload["BIRTH"]).To(Equal(1991.0))
			Expect(req.Payload["INCOME"]).To(Equal(60000.0))
		})

		DescribeTable("motor intake length depends on the cover type",
			func(answers []string, want int) {
				m := newMachine(motorOnly, true)
				m.Open()
				answerAll(m, demographicAnswers...)
				Expect(m.Phase()).To(Equal(dialogue.PhaseMotor))

				n, effects := answerAll(m, answers...)

				Expect(n).To(Equal(want))
				Expect(m.Phase()).To(Equal(dialogue.PhaseQuote))
				_, ok := effectOf[dialogue.RequestQuote](effects)
				Expect(ok).To(BeTrue())
			},
			Entry("comprehensive asks for the vehicle value", comprehensiveMotor, 11),
			Entry("third party skips the vehicle value", thirdPartyMotor, 10),
		)

		It("shows a summary of the answers before quoting", func() {
			m := newMachine(demographicOnly, true)
			m.Open()
			answerAll(m, demographicAnswers...)

			texts := make([]string, 0)
			for _, msg := range m.Messages() {
				texts = append(texts, msg.Text)
			}
			joined := strings.Join(texts, "\n")
			Expect(joined).To(ContainSubstring("Here's what I have:"))
			Expect(joined).To(ContainSubstring("How old are you?"))
			Expect(joined).To(ContainSubstring("Bachelors"))
			Expect(lastMessage(m)).To(ContainSubstring("Let me calculate your personalized insurance quote"))
		})
	})

	Describe("motor ordering", func() {
		var m *dialogue.Machine

		BeforeEach(func() {
			m = newMachine(motorOnly, true)
			m.Open()
			answerAll(m, demographicAnswers...)
		})

		It("asks vehicle category, then cover type, then the vehicle value for comprehensive", func() {
			Expect(currentField(m)).To(Equal("vehicle_category"))
			answerAll(m, "private")
			Expect(m.Slots()["vehicle_category"]).To(Equal(dialogue.Text("Private")))
			Expect(currentField(m)).To(Equal("cover_type"))
			answerAll(m, "Comprehensive", "12")
			Expect(currentField(m)).To(Equal("coverage_vehicle_value"))
		})

		It("rejects a manufacture year in the future", func() {
			answerAll(m, "Private", "TPO", "6")
			outcome, _ := m.Submit("2031")
			Expect(outcome).To(Equal(dialogue.Rejected))
			Expect(lastMessage(m)).To(Equal("Please enter a year between 1970 and 2025."))
		})

		It("offers the catalog categories once loaded", func() {
			gen := m.Generation()
			_, err := m.ApplyCatalog(gen, &models.MotorReference{VehicleCategories: []string{"Private", "Commercial", "PSV"}}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Current().Options).To(HaveLen(3))
		})
	})

	Describe("late catalog", func() {
		It("asks the pending question again when the options change", func() {
			m := newMachine(motorOnly, true)
			m.Open()
			answerAll(m, demographicAnswers...)
			Expect(currentField(m)).To(Equal("vehicle_category"))
			shown := lastMessage(m)

			_, err := m.ApplyCatalog(m.Generation(), &models.MotorReference{VehicleCategories: []string{"Personal", "Business"}}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(lastMessage(m)).NotTo(Equal(shown))
			Expect(lastMessage(m)).To(ContainSubstring("Personal"))

			outcome, _ := m.Submit("Private")
			Expect(outcome).To(Equal(dialogue.Rejected))
			outcome, _ = m.Submit("Business")
			Expect(outcome).To(Equal(dialogue.Accepted))
			Expect(m.Slots()["vehicle_category"]).To(Equal(dialogue.Text("Business")))
		})

		It("keeps the transcript unchanged when the options match", func() {
			m := newMachine(motorOnly, true)
			m.Open()
			answerAll(m, demographicAnswers...)
			before := len(m.Messages())

			_, err := m.ApplyCatalog(m.Generation(), nil, errors.New("reference unavailable"))
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Messages()).To(HaveLen(before))
		})
	})

	Describe("add-on intake", func() {
		var m *dialogue.Machine

		catalog := &models.MotorReference{
			VehicleCategories: []string{"Private", "Commercial"},
			CoverTypes:        []string{"TPO", "Comprehensive"},
			Terms:             []int{12},
			Addons: map[string]models.Addon{
				"windscreen": {
					Label:             "Windscreen cover",
					AllowedCoverTypes: []string{"Comprehensive"},
					RequiresAmount:    true,
					Limits:            &models.AddonLimits{Type: models.LimitPercentOfVehicleValue, MinPct: 0, MaxPct: 10},
				},
				"road_rescue": {Label: "Road rescue"},
				"pvt":         {Label: "Political violence", AllowedCategories: []string{"Commercial"}},
			},
		}

		BeforeEach(func() {
			m = newMachine(withAddons, true)
			effects := m.Open()
			load, ok := effectOf[dialogue.LoadCatalog](effects)
			Expect(ok).To(BeTrue())
			_, err := m.ApplyCatalog(load.Generation, catalog, nil)
			Expect(err).NotTo(HaveOccurred())
			answerAll(m, demographicAnswers...)
		})

		It("ends after one question when the user declines", func() {
			answerAll(m, thirdPartyMotor...)
			Expect(m.Phase()).To(Equal(dialogue.PhaseAddon))

			n, effects := answerAll(m, "No")

			Expect(n).To(Equal(1))
			Expect(m.Phase()).To(Equal(dialogue.PhaseQuote))
			req, _ := effectOf[dialogue.RequestQuote](effects)
			Expect(req.Payload["add_ons"]).To(BeEmpty())
		})

		It("asks each eligible add-on and the sum insured when required", func() {
			answerAll(m, comprehensiveMotor...)
			Expect(currentField(m)).To(Equal("addon_decision"))

			n, _ := answerAll(m, "Yes", "Yes", "Yes")
			Expect(n).To(Equal(3))
			Expect(currentField(m)).To(Equal("windscreen_sum_insured"))

			outcome, _ := m.Submit("200000")
			Expect(outcome).To(Equal(dialogue.Rejected))
			Expect(lastMessage(m)).To(ContainSubstring("between KES 0 and KES 150,000"))

			_, effects := answerAll(m, "100,000")
			Expect(m.Phase()).To(Equal(dialogue.PhaseQuote))

			req, ok := effectOf[dialogue.RequestQuote](effects)
			Expect(ok).To(BeTrue())
			Expect(req.Payload["add_ons"]).To(Equal([]string{"road_rescue", "windscreen"}))
			Expect(req.Payload["windscreen_sum_insured"]).To(Equal(100000.0))
			Expect(req.Payload["vehicle_value"]).To(Equal(1500000.0))
		})

		It("skips the phase when nothing is eligible", func() {
			empty := newMachine(withAddons, true)
			load, _ := effectOf[dialogue.LoadCatalog](empty.Open())
			_, _ = empty.ApplyCatalog(load.Generation, &models.MotorReference{
				Addons: map[string]models.Addon{"pvt": {Label: "Political violence", AllowedCategories: []string{"Commercial"}}},
			}, nil)
			answerAll(empty, demographicAnswers...)
			answerAll(empty, thirdPartyMotor...)

			Expect(empty.Phase()).To(Equal(dialogue.PhaseQuote))
		})
	})

	Describe("quote results", func() {
		var (
			m   *dialogue.Machine
			req dialogue.RequestQuote
		)

		BeforeEach(func() {
			m = newMachine(demographicOnly, true)
			m.Open()
			_, effects := answerAll(m, demographicAnswers...)
			var ok bool
			req, ok = effectOf[dialogue.RequestQuote](effects)
			Expect(ok).To(BeTrue())
		})

		quote := func(valuation bool) *models.QuoteResult {
			confidence := 0.82
			return &models.QuoteResult{
				Status:            "success",
				Quote:             45000,
				RiskLevel:         "Medium",
				Confidence:        &confidence,
				ValuationRequired: valuation,
				QuoteID:           12,
			}
		}

		It("drops input while the quote is outstanding", func() {
			outcome, _ := m.Submit("34")
			Expect(outcome).To(Equal(dialogue.Dropped))
		})

		It("announces the quote and asks the valuation question when required", func() {
			effects, err := m.ApplyQuote(req.Generation, quote(true), nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(m.Messages()).To(ContainElement(HaveField("Text",
				"Based on your data, your predicted risk is medium (confidence 82%). Your insurance quote is KES 45,000.")))
			checkpoint, ok := effectOf[dialogue.Checkpoint](effects)
			Expect(ok).To(BeTrue())
			Expect(checkpoint.QuoteID).To(Equal(int64(12)))

			Expect(m.Phase()).To(Equal(dialogue.PhaseIssuance))
			var asked []string
			n, _ := countUntilIdle(m, func(q *dialogue.QuestionSpec) string {
				asked = append(asked, q.Field)
				return "Yes"
			})
			Expect(n).To(Equal(3))
			Expect(asked).To(Equal([]string{"full_premium_paid", "proposal_form_received", "valuation_done"}))
			Expect(m.Phase()).To(Equal(dialogue.PhaseTerminal))
			Expect(lastMessage(m)).To(Equal("Checklist complete. You can now bind your policy."))
		})

		It("skips the valuation question when it is not required", func() {
			_, err := m.ApplyQuote(req.Generation, quote(false), nil)
			Expect(err).NotTo(HaveOccurred())

			n, _ := countUntilIdle(m, func(*dialogue.QuestionSpec) string { return "No" })
			Expect(n).To(Equal(2))
			Expect(m.Phase()).To(Equal(dialogue.PhaseTerminal))
			Expect(m.Flags()).To(Equal(models.IssuanceFlags{}))
		})

		It("treats a 401 as session expiry", func() {
			effects, err := m.ApplyQuote(req.Generation, nil, insurer.ErrUnauthorized)
			Expect(err).NotTo(HaveOccurred())

			_, ok := effectOf[dialogue.SessionExpired](effects)
			Expect(ok).To(BeTrue())
			Expect(m.Phase()).To(Equal(dialogue.PhaseAuthGate))
			Expect(m.Session().Authenticated).To(BeFalse())
			Expect(m.Slots()).To(BeEmpty())
		})

		It("treats a 401 as session expiry whatever its message says", func() {
			effects, err := m.ApplyQuote(req.Generation, nil, &insurer.APIError{Status: 401, Message: "Invalid credentials"})
			Expect(err).NotTo(HaveOccurred())

			_, ok := effectOf[dialogue.SessionExpired](effects)
			Expect(ok).To(BeTrue())
			Expect(m.Phase()).To(Equal(dialogue.PhaseAuthGate))
			Expect(m.Session().Authenticated).To(BeFalse())
			Expect(m.Messages()).NotTo(ContainElement(HaveField("Text", ContainSubstring("credentials were not accepted"))))
		})

		It("re-offers the last question after a rejected quote", func() {
			_, err := m.ApplyQuote(req.Generation, nil, &insurer.APIError{Status: 422, Message: "model not loaded"})
			Expect(err).NotTo(HaveOccurred())

			Expect(m.Messages()).To(ContainElement(HaveField("Text",
				"I couldn't calculate the quote: model not loaded. Please review your answers and try again.")))
			Expect(m.Busy()).To(BeFalse())
			Expect(currentField(m)).To(Equal("REVOKED"))

			_, effects := answerAll(m, "No")
			_, ok := effectOf[dialogue.RequestQuote](effects)
			Expect(ok).To(BeTrue())
		})

		It("falls back to the connectivity message for transport failures", func() {
			_, _ = m.ApplyQuote(req.Generation, nil, insurer.ErrUnavailable)
			Expect(m.Messages()).To(ContainElement(HaveField("Text", ContainSubstring("trouble connecting"))))
		})

		It("discards a result from before a reset", func() {
			m.Reset()
			Expect(m.Generation()).To(Equal(req.Generation + 1))

			_, err := m.ApplyQuote(req.Generation, quote(true), nil)

			Expect(err).To(MatchError(dialogue.ErrStale))
			Expect(m.Phase()).To(Equal(dialogue.PhaseDemographic))
			Expect(m.Quote()).To(BeNil())
		})
	})

	Describe("binding and issuing", func() {
		var m *dialogue.Machine

		BeforeEach(func() {
			m = newMachine(demographicOnly, true)
			m.Open()
			_, effects := answerAll(m, demographicAnswers...)
			req, _ := effectOf[dialogue.RequestQuote](effects)
			_, err := m.ApplyQuote(req.Generation, &models.QuoteResult{Status: "success", Quote: 45000, RiskLevel: "Medium", ValuationRequired: true, QuoteID: 12}, nil)
			Expect(err).NotTo(HaveOccurred())
		})

		It("refuses to bind before the checklist is complete", func() {
			_, err := m.RequestBind()
			Expect(err).To(MatchError(dialogue.ErrNotReady))
		})

		Context("after the checklist", func() {
			var bind dialogue.Bind

			BeforeEach(func() {
				answerAll(m, "Yes", "Yes", "No")
				effects, err := m.RequestBind()
				Expect(err).NotTo(HaveOccurred())
				var ok bool
				bind, ok = effectOf[dialogue.Bind](effects)
				Expect(ok).To(BeTrue())
			})

			It("sends the checklist answers as coverage", func() {
				Expect(bind.QuoteID).To(Equal(int64(12)))
				Expect(bind.Coverage).To(HaveKeyWithValue("full_premium_paid", true))
				Expect(bind.Coverage).To(HaveKeyWithValue("valuation_done", false))
				_, err := m.RequestBind()
				Expect(err).To(MatchError(dialogue.ErrBusy))
			})

			It("shows the valuation remedy when binding fails on valuation", func() {
				failure := &insurer.APIError{Status: 400, Message: "Vehicle valuation required before binding"}
				_, err := m.ApplyBind(bind.Generation, nil, failure)
				Expect(err).NotTo(HaveOccurred())

				Expect(lastMessage(m)).To(Equal(dialogue.Remedy(failure)))
				Expect(lastMessage(m)).To(ContainSubstring("vehicle valuation is required"))
				Expect(m.Phase()).To(Equal(dialogue.PhaseTerminal))
				Expect(m.Busy()).To(BeFalse())
			})

			It("binds and then issues the policy", func() {
				effects, err := m.ApplyBind(bind.Generation, &models.Policy{ID: 5, PolicyNumber: "POL-7-12", Status: models.PolicyBound, KYCStatus: models.KYCPending}, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(lastMessage(m)).To(Equal("Your policy POL-7-12 is bound. Complete KYC and then issue it."))
				checkpoint, _ := effectOf[dialogue.Checkpoint](effects)
				Expect(checkpoint.PolicyID).To(Equal(int64(5)))

				effects, err = m.RequestIssue()
				Expect(err).NotTo(HaveOccurred())
				issue, ok := effectOf[dialogue.Issue](effects)
				Expect(ok).To(BeTrue())
				Expect(issue.PolicyID).To(Equal(int64(5)))

				_, err = m.ApplyIssue(issue.Generation, &models.Policy{ID: 5, PolicyNumber: "POL-7-12", Status: models.PolicyIssued}, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(m.Completed()).To(BeTrue())
				Expect(lastMessage(m)).To(Equal("Policy POL-7-12 has been issued. Thank you!"))
			})
		})
	})

	Describe("session changes", func() {
		It("resets to the auth gate on logout whatever the progress", func() {
			m := newMachine(motorOnly, true)
			m.Open()
			answerAll(m, demographicAnswers...)
			answerAll(m, "Private", "Comprehensive")
			gen := m.Generation()

			m.UpdateSession(dialogue.SessionContext{})

			Expect(m.Phase()).To(Equal(dialogue.PhaseAuthGate))
			Expect(m.AuthStage()).To(Equal(dialogue.AuthAsk))
			Expect(m.Slots()).To(BeEmpty())
			Expect(m.Generation()).To(Equal(gen + 1))
			Expect(currentField(m)).To(Equal("has_account"))
		})

		It("discards a registration result that arrives after a login", func() {
			m := newMachine(demographicOnly, false)
			m.Open()
			_, effects := answerAll(m, "No, register me quickly", "Ann", "ann@example.com", "secret1")
			register, _ := effectOf[dialogue.Register](effects)

			m.UpdateSession(dialogue.SessionContext{Authenticated: true, AccessToken: "tok"})
			_, err := m.ApplyRegistration(register.Generation, dialogue.SessionContext{Authenticated: true}, nil)

			Expect(err).To(MatchError(dialogue.ErrStale))
			Expect(m.Phase()).To(Equal(dialogue.PhaseDemographic))
		})
	})

	Describe("typing indicator", func() {
		It("flags new bot messages and settles them once", func() {
			m := dialogue.New(dialogue.Options{TypingDelay: 1500 * time.Millisecond, Clock: fixedClock}, dialogue.SessionContext{})
			effects := m.Open()

			var typing []dialogue.Typing
			for _, e := range effects {
				if t, ok := e.(dialogue.Typing); ok {
					typing = append(typing, t)
				}
			}
			Expect(typing).To(HaveLen(len(m.Messages())))
			Expect(typing[0].Delay).To(Equal(1500 * time.Millisecond))
			Expect(m.Messages()[0].IsTyping).To(BeTrue())

			Expect(m.FinishTyping(typing[0].MessageID)).To(BeTrue())
			Expect(m.FinishTyping(typing[0].MessageID)).To(BeFalse())
			Expect(m.Messages()[0].IsTyping).To(BeFalse())
		})
	})

	Describe("Resume", func() {
		It("jumps to a bound policy left from an earlier visit", func() {
			m := newMachine(demographicOnly, true)
			m.Open()

			m.Resume(models.ResumeState{LastQuoteID: 12, LastPolicyID: 5, PolicyStatus: models.PolicyBound, KYCStatus: models.KYCPending})

			Expect(m.Phase()).To(Equal(dialogue.PhaseTerminal))
			Expect(lastMessage(m)).To(Equal("Welcome back! Your policy 5 is bound."))
			_, err := m.RequestBind()
			Expect(err).To(MatchError(dialogue.ErrNotReady))
			effects, err := m.RequestIssue()
			Expect(err).NotTo(HaveOccurred())
			issue, _ := effectOf[dialogue.Issue](effects)
			Expect(issue.PolicyID).To(Equal(int64(5)))
		})

		It("ignores issued policies", func() {
			m := newMachine(demographicOnly, true)
			m.Open()
			Expect(m.Resume(models.ResumeState{LastPolicyID: 5, PolicyStatus: models.PolicyIssued})).To(BeEmpty())
			Expect(m.Phase()).To(Equal(dialogue.PhaseDemographic))
		})
	})
})
