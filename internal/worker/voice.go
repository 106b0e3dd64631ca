package worker

import (
	"context"

	"quotebot/internal/speech"
)

// SetVoice turns spoken replies on or off for the conversation.
func (m *Manager) SetVoice(ctx context.Context, visitorID int64, convID string, enabled bool) error {
	c, err := m.lookup(visitorID, convID)
	if err != nil {
		return err
	}
	var voiceErr error
	if err := c.call(ctx, func() {
		if enabled && !c.voice.Supported() {
			voiceErr = speech.ErrUnsupported
			return
		}
		c.voiceOn = enabled
	}); err != nil {
		return err
	}
	return voiceErr
}

// FeedTranscript records a recognition chunk, starting a listening session
// when none is active, and returns the running transcript.
func (m *Manager) FeedTranscript(ctx context.Context, visitorID int64, convID, chunk string, final bool) (string, error) {
	c, err := m.lookup(visitorID, convID)
	if err != nil {
		return "", err
	}
	var (
		text    string
		feedErr error
	)
	if err := c.call(ctx, func() {
		if !c.listening {
			if feedErr = c.voice.StartListening(); feedErr != nil {
				return
			}
			c.listening = true
		}
		c.voice.Feed(chunk, final)
		text = c.voice.Transcript()
	}); err != nil {
		return "", err
	}
	return text, feedErr
}

// StopTranscript ends listening and submits the assembled text as input.
func (m *Manager) StopTranscript(ctx context.Context, visitorID int64, convID string) (SubmitResult, error) {
	c, err := m.lookup(visitorID, convID)
	if err != nil {
		return SubmitResult{}, err
	}
	var (
		res     SubmitResult
		stopErr error
	)
	if err := c.call(ctx, func() {
		var text string
		text, stopErr = c.voice.StopListening()
		c.listening = false
		if stopErr != nil {
			return
		}
		res = c.submit(text)
	}); err != nil {
		return SubmitResult{}, err
	}
	return res, stopErr
}

// Audio synthesizes the text of one bot message.
func (m *Manager) Audio(ctx context.Context, visitorID int64, convID, messageID string) ([]byte, error) {
	c, err := m.lookup(visitorID, convID)
	if err != nil {
		return nil, err
	}
	var (
		text  string
		found bool
		on    bool
	)
	if err := c.call(ctx, func() {
		on = c.voiceOn
		msg, ok := c.machine.Message(messageID)
		found = ok
		text = msg.Text
	}); err != nil {
		return nil, err
	}
	if !on {
		return nil, ErrVoiceDisabled
	}
	if !found {
		return nil, ErrConversationNotFound
	}
	return c.voice.Speak(ctx, text)
}
