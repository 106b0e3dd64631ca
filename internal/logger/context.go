package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are attached to every record logged with the carrying context.
type LogFields struct {
	ConversationID string
	VisitorID      int64
	Component      string
}

// WithLogFields merges fields into the context; non-empty values win.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := GetLogFields(ctx)
	if fields.ConversationID != "" {
		merged.ConversationID = fields.ConversationID
	}
	if fields.VisitorID != 0 {
		merged.VisitorID = fields.VisitorID
	}
	if fields.Component != "" {
		merged.Component = fields.Component
	}
	return context.WithValue(ctx, logFieldsKey, merged)
}

func GetLogFields(ctx context.Context) LogFields {
	if ctx == nil {
		return LogFields{}
	}
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}
