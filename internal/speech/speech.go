package speech

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	ErrUnsupported  = errors.New("speech: not supported")
	ErrNotListening = errors.New("speech: not listening")
	ErrEmptyText    = errors.New("speech: empty text")
)

// Adapter is the optional voice channel of a conversation. Recognition runs
// in the widget; the adapter assembles the chunks it reports and turns bot
// replies into audio.
type Adapter interface {
	Supported() bool
	StartListening() error
	// StopListening ends the session and returns the assembled transcript.
	StopListening() (string, error)
	Feed(chunk string, final bool)
	Transcript() string
	Speak(ctx context.Context, text string) ([]byte, error)
}

// Synthesizer turns text into audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// SynthesizerFunc adapts a function to Synthesizer.
type SynthesizerFunc func(ctx context.Context, text string) ([]byte, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return f(ctx, text)
}

// Unsupported is the adapter used when no voice channel is available.
type Unsupported struct{}

func (Unsupported) Supported() bool                { return false }
func (Unsupported) StartListening() error          { return ErrUnsupported }
func (Unsupported) StopListening() (string, error) { return "", ErrUnsupported }
func (Unsupported) Feed(string, bool)              {}
func (Unsupported) Transcript() string             { return "" }
func (Unsupported) Speak(context.Context, string) ([]byte, error) {
	return nil, ErrUnsupported
}

// Remote assembles recognition chunks pushed by the widget and speaks
// through a remote synthesizer.
type Remote struct {
	synth Synthesizer

	mu        sync.Mutex
	listening bool
	final     []string
	interim   string
}

func NewRemote(synth Synthesizer) *Remote {
	return &Remote{synth: synth}
}

func (r *Remote) Supported() bool { return r.synth != nil }

func (r *Remote) StartListening() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listening = true
	r.final = nil
	r.interim = ""
	return nil
}

func (r *Remote) StopListening() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.listening {
		return "", ErrNotListening
	}
	text := r.transcriptLocked()
	r.listening = false
	r.final = nil
	r.interim = ""
	return text, nil
}

// Feed records a recognition chunk. Interim chunks replace each other until
// a final chunk settles the phrase.
func (r *Remote) Feed(chunk string, final bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.listening {
		return
	}
	chunk = strings.TrimSpace(chunk)
	if final {
		if chunk != "" {
			r.final = append(r.final, chunk)
		}
		r.interim = ""
		return
	}
	r.interim = chunk
}

func (r *Remote) Transcript() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transcriptLocked()
}

func (r *Remote) transcriptLocked() string {
	parts := append([]string(nil), r.final...)
	if r.interim != "" {
		parts = append(parts, r.interim)
	}
	return strings.Join(parts, " ")
}

func (r *Remote) Speak(ctx context.Context, text string) ([]byte, error) {
	if r.synth == nil {
		return nil, ErrUnsupported
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	return r.synth.Synthesize(ctx, text)
}
