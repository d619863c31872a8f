package stt

import "context"

// Handler receives the observable transitions of one live transcription
// connection: ready, transcript, failure, closed. Implementations must
// tolerate calls arriving after they have begun tearing the session down.
type Handler interface {
	Ready()
	Transcript(text string, isFinal bool)
	Failure(reason string)
	Closed(reason string)
}

// LiveTranscriber is a single connection to the streaming recognizer,
// owned exclusively by one relay session for its whole lifetime.
type LiveTranscriber interface {
	// Name returns the adapter name for logging/metrics.
	Name() string
	// Start opens the connection. Readiness is reported through the
	// Handler, not the return value.
	Start(ctx context.Context) error
	// SendAudio forwards one raw audio frame. It fails when the
	// connection is not yet ready or already gone.
	SendAudio(data []byte) error
	// Finish signals end of utterance: no more audio will follow and the
	// connection should drain and close on its own.
	Finish()
	// Close tears the connection down immediately. Idempotent.
	Close() error
}

// Config carries the per-session negotiated parameters.
type Config struct {
	APIKey     string
	Model      string
	Language   string
	Encoding   string // "opus" or "pcm16"
	SampleRate int
	Punctuate  bool
	SessionID  string

	EndpointingMS  int
	UtteranceEndMS int
}

// Dialer constructs a LiveTranscriber for one session. It must reject the
// session without opening any connection when prerequisites such as the
// API key are missing.
type Dialer func(cfg Config, h Handler) (LiveTranscriber, error)
