package insurer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"quotebot/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Options{
		BaseURL: srv.URL + "/",
		TTS:     TTSOptions{VoiceID: "voice", ModelID: "model", OutputFormat: "mp3"},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestRegisterSendsLanguagePreference(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/register" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["language_preference"] != "en" || body["name"] != "Ann" {
			t.Errorf("unexpected register body %+v", body)
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"user":         map[string]any{"id": 7, "name": "Ann", "email": "ann@example.com"},
			"access_token": "tok-1",
		})
	})

	sess, err := client.Register(context.Background(), "Ann", "ann@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if sess.AccessToken != "tok-1" || sess.User.ID != 7 {
		t.Fatalf("unexpected session %+v", sess)
	}
}

func TestBearerTokenAttached(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer abc" {
			t.Errorf("authorization header %q", got)
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": map[string]any{"id": 1, "name": "Bo"}})
	})
	user, err := client.Profile(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if user.Name != "Bo" {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestUnauthorizedMapsToSentinel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "Token has expired"})
	})
	_, err := client.Predict(context.Background(), "old", models.QuoteRequest{"AGE": 30})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if Classify(err) != CategoryUnauthorized {
		t.Fatalf("expected unauthorized category, got %s", Classify(err))
	}
}

func TestPredictDecodesQuote(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["cover_type"] != "Comprehensive" {
			t.Errorf("payload not forwarded: %+v", body)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":             "success",
			"quote":              45000,
			"risk_level":         "Medium",
			"confidence":         0.82,
			"valuation_required": true,
			"quote_id":           12,
		})
	})
	res, err := client.Predict(context.Background(), "t", models.QuoteRequest{"cover_type": "Comprehensive"})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if res.Quote != 45000 || res.RiskLevel != "Medium" || !res.ValuationRequired || res.QuoteID != 12 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Confidence == nil || *res.Confidence != 0.82 {
		t.Fatalf("confidence not decoded: %+v", res.Confidence)
	}
}

func TestPredictErrorStatusBecomesAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "error": "model not loaded"})
	})
	_, err := client.Predict(context.Background(), "t", models.QuoteRequest{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "model not loaded" {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestIssueErrorCarriesMissingRequirements(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/policies/5/issue" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":                "Issuance requirements not met",
			"missing_requirements": []string{"valuation_done"},
		})
	})
	_, err := client.IssuePolicy(context.Background(), "t", 5)
	if got := Classify(err); got != CategoryValuation {
		t.Fatalf("expected valuation category, got %s (%v)", got, err)
	}
}

func TestBindDecodesPolicy(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			QuoteID  int64          `json:"quote_id"`
			Coverage map[string]any `json:"coverage"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.QuoteID != 3 || body.Coverage["full_premium_paid"] != true {
			t.Errorf("unexpected bind body %+v", body)
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"status": "success",
			"policy": map[string]any{"id": 9, "policy_number": "POL-1-3-20250101", "status": "bound", "kyc_status": "pending"},
		})
	})
	policy, err := client.BindPolicy(context.Background(), "t", 3, map[string]any{"full_premium_paid": true})
	if err != nil {
		t.Fatalf("BindPolicy: %v", err)
	}
	if policy.ID != 9 || policy.Status != models.PolicyBound {
		t.Fatalf("unexpected policy %+v", policy)
	}
}

func TestSpeakReturnsAudioBytes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(raw), `"voice_id":"voice"`) {
			t.Errorf("voice options missing: %s", raw)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-audio"))
	})
	audio, err := client.Speak(context.Background(), "", "hello")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if string(audio) != "ID3-audio" {
		t.Fatalf("unexpected audio %q", audio)
	}
}

func TestSubmitKYCRequiresFields(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("request should not be sent")
	})
	if err := client.SubmitKYC(context.Background(), "t", models.KYCSubmission{NationalID: "123"}); err == nil {
		t.Fatalf("expected missing dob error")
	}
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	client, err := NewClient(Options{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.MotorReference(context.Background(), "")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if Classify(err) != CategoryConnectivity {
		t.Fatalf("expected connectivity category")
	}
}

func TestClassifyOrdering(t *testing.T) {
	cases := []struct {
		err  error
		want Category
	}{
		{&APIError{Status: 400, Message: "Full premium must be paid before issue"}, CategoryPremium},
		{&APIError{Status: 400, Message: "Issuance requirements not met", Missing: []string{"proposal_form_received"}}, CategoryProposal},
		{&APIError{Status: 400, Message: "Mechanical assessment outstanding"}, CategoryMechanical},
		{&APIError{Status: 400, Message: "KYC not complete"}, CategoryKYC},
		{&APIError{Status: 400, Message: "Invalid email or password"}, CategoryCredentials},
		{&APIError{Status: 401, Message: "Invalid credentials"}, CategoryUnauthorized},
		{&APIError{Status: 401, Message: "KYC token rejected"}, CategoryUnauthorized},
		{&APIError{Status: 400, Message: "Quote not found"}, CategoryRejected},
		{&APIError{Status: 502}, CategoryConnectivity},
		{errors.New("boom"), CategoryConnectivity},
		{nil, CategoryNone},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}
