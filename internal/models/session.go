package models

import "time"

const (
	ConversationInProgress = "in_progress"
	ConversationQuoted     = "quoted"
	ConversationCompleted  = "completed"
)

// Conversation is the stored header of one widget dialogue.
type Conversation struct {
	ID        string    `json:"id"`
	VisitorID int64     `json:"visitor_id"`
	RemoteID  string    `json:"remote_id,omitempty"`
	Phase     string    `json:"phase"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Visitor is a widget installation identified by its auth token.
type Visitor struct {
	ID        int64     `json:"id"`
	UserName  string    `json:"user_name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is the profile returned by the insurer auth endpoints.
type User struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Email              string `json:"email"`
	Phone              string `json:"phone,omitempty"`
	LanguagePreference string `json:"language_preference,omitempty"`
}

// AuthSession is the insurer login/register response.
type AuthSession struct {
	User        User   `json:"user"`
	AccessToken string `json:"access_token"`
}
