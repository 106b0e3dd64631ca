package insurer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/valyala/fasthttp"

	"quotebot/internal/models"
)

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, email, password string) (*models.AuthSession, error) {
	var out models.AuthSession
	err := c.do(ctx, fasthttp.MethodPost, "/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, errors.New("login response missing access token")
	}
	return &out, nil
}

// Register creates an account and signs it in.
func (c *Client) Register(ctx context.Context, name, email, password string) (*models.AuthSession, error) {
	var out models.AuthSession
	err := c.do(ctx, fasthttp.MethodPost, "/auth/register", "", map[string]string{
		"name":                name,
		"email":               email,
		"password":            password,
		"language_preference": "en",
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, errors.New("register response missing access token")
	}
	return &out, nil
}

type userEnvelope struct {
	User *models.User `json:"user"`
}

// Profile returns the signed-in user; it doubles as a token check.
func (c *Client) Profile(ctx context.Context, token string) (*models.User, error) {
	var out userEnvelope
	if err := c.do(ctx, fasthttp.MethodGet, "/auth/profile", token, nil, &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return &models.User{}, nil
	}
	return out.User, nil
}

// UpdateProfile applies a partial profile update.
func (c *Client) UpdateProfile(ctx context.Context, token string, fields map[string]any) (*models.User, error) {
	var out userEnvelope
	if err := c.do(ctx, fasthttp.MethodPut, "/auth/profile", token, fields, &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return &models.User{}, nil
	}
	return out.User, nil
}

// MotorReference loads the vehicle/cover/add-on catalog.
func (c *Client) MotorReference(ctx context.Context, token string) (*models.MotorReference, error) {
	var out models.MotorReference
	if err := c.do(ctx, fasthttp.MethodGet, "/api/reference/motor", token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Predict requests a risk score and quote for the feature payload.
func (c *Client) Predict(ctx context.Context, token string, payload models.QuoteRequest) (*models.QuoteResult, error) {
	var out struct {
		models.QuoteResult
		Error string `json:"error"`
	}
	if err := c.do(ctx, fasthttp.MethodPost, "/api/predict", token, payload, &out); err != nil {
		return nil, err
	}
	if out.Status != "" && !strings.EqualFold(out.Status, "success") {
		msg := out.Error
		if msg == "" {
			msg = "prediction failed"
		}
		return nil, &APIError{Status: fasthttp.StatusUnprocessableEntity, Message: msg}
	}
	result := out.QuoteResult
	return &result, nil
}

type policyEnvelope struct {
	Policy *models.Policy `json:"policy"`
}

func (p policyEnvelope) policy() (*models.Policy, error) {
	if p.Policy == nil {
		return nil, errors.New("response missing policy")
	}
	return p.Policy, nil
}

// BindPolicy turns a saved quote into a bound policy.
func (c *Client) BindPolicy(ctx context.Context, token string, quoteID int64, coverage map[string]any) (*models.Policy, error) {
	var out policyEnvelope
	err := c.do(ctx, fasthttp.MethodPost, "/api/policies/bind", token, map[string]any{
		"quote_id": quoteID,
		"coverage": coverage,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.policy()
}

// IssuePolicy issues a bound policy; the server enforces KYC and prerequisites.
func (c *Client) IssuePolicy(ctx context.Context, token string, policyID int64) (*models.Policy, error) {
	var out policyEnvelope
	if err := c.do(ctx, fasthttp.MethodPost, fmt.Sprintf("/api/policies/%d/issue", policyID), token, nil, &out); err != nil {
		return nil, err
	}
	return out.policy()
}

func (c *Client) GetPolicy(ctx context.Context, token string, policyID int64) (*models.Policy, error) {
	var out policyEnvelope
	if err := c.do(ctx, fasthttp.MethodGet, fmt.Sprintf("/api/policies/%d", policyID), token, nil, &out); err != nil {
		return nil, err
	}
	return out.policy()
}

// SubmitKYC attaches identity details to the latest quote.
func (c *Client) SubmitKYC(ctx context.Context, token string, kyc models.KYCSubmission) error {
	if strings.TrimSpace(kyc.NationalID) == "" || strings.TrimSpace(kyc.DOB) == "" {
		return errors.New("national_id and dob are required")
	}
	return c.do(ctx, fasthttp.MethodPost, "/api/users/kyc/submit", token, kyc, nil)
}

// StartConversation opens the remote transcript and returns its id.
func (c *Client) StartConversation(ctx context.Context, token string, prefill map[string]any) (string, error) {
	var out struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := c.do(ctx, fasthttp.MethodPost, "/api/conversation/start", token, map[string]any{"prefill": prefill}, &out); err != nil {
		return "", err
	}
	if out.ConversationID == "" {
		return "", errors.New("start conversation response missing id")
	}
	return out.ConversationID, nil
}

// PostConversationMessage appends one message to the remote transcript.
func (c *Client) PostConversationMessage(ctx context.Context, token, conversationID string, msg models.ChatMessage) error {
	return c.do(ctx, fasthttp.MethodPost, "/api/conversation/message", token, map[string]any{
		"conversation_id": conversationID,
		"sender":          msg.Sender,
		"text":            msg.Text,
		"timestamp":       msg.Timestamp,
	}, nil)
}

// ConversationStatus returns the remote transcript status document.
func (c *Client) ConversationStatus(ctx context.Context, token, conversationID string) (map[string]any, error) {
	out := map[string]any{}
	if err := c.do(ctx, fasthttp.MethodGet, "/api/conversation/status/"+conversationID, token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Speak asks the TTS proxy for audio of text.
func (c *Client) Speak(ctx context.Context, token, text string) ([]byte, error) {
	return c.doRaw(ctx, fasthttp.MethodPost, "/api/tts/speak", token, map[string]string{
		"text":          text,
		"voice_id":      c.tts.VoiceID,
		"model_id":      c.tts.ModelID,
		"output_format": c.tts.OutputFormat,
	})
}

// ListQuotes returns the user's quote history, newest first.
func (c *Client) ListQuotes(ctx context.Context, token string) ([]models.QuoteRecord, error) {
	var out struct {
		Quotes []models.QuoteRecord `json:"quotes"`
	}
	if err := c.do(ctx, fasthttp.MethodGet, "/api/user/quotes", token, nil, &out); err != nil {
		return nil, err
	}
	if out.Quotes == nil {
		out.Quotes = []models.QuoteRecord{}
	}
	return out.Quotes, nil
}

func (c *Client) SendQuote(ctx context.Context, token string, quoteID int64) error {
	return c.do(ctx, fasthttp.MethodPost, fmt.Sprintf("/api/send-quote/%d", quoteID), token, nil, nil)
}

func (c *Client) GenerateQuotePDF(ctx context.Context, token string, quoteID int64) error {
	return c.do(ctx, fasthttp.MethodPost, fmt.Sprintf("/api/generate-quote-pdf/%d", quoteID), token, nil, nil)
}

// DownloadQuotePDF returns the PDF bytes of a quote.
func (c *Client) DownloadQuotePDF(ctx context.Context, token string, quoteID int64) ([]byte, error) {
	return c.doRaw(ctx, fasthttp.MethodGet, fmt.Sprintf("/api/download-quote-pdf/%d", quoteID), token, nil)
}
