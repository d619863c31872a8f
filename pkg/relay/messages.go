package relay

// Server-to-client message types, discriminated by the "type" field.
const (
	TypeWelcome    = "welcome"
	TypeEcho       = "echo"
	TypeReady      = "ready"
	TypeTranscript = "transcript"
	TypeError      = "error"
	TypeDone       = "done"
)

// finishSignal is the client text frame that ends an utterance without
// closing the client connection.
const finishSignal = "FINISH"

type WelcomeMessage struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

type EchoMessage struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

type ReadyMessage struct {
	Type string `json:"type"`
}

type TranscriptMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type DoneMessage struct {
	Type string `json:"type"`
}

func NewWelcome(msg string) WelcomeMessage {
	return WelcomeMessage{Type: TypeWelcome, Msg: msg}
}

func NewEcho(msg string) EchoMessage {
	return EchoMessage{Type: TypeEcho, Msg: msg}
}

func NewReady() ReadyMessage {
	return ReadyMessage{Type: TypeReady}
}

func NewTranscript(text string, isFinal bool) TranscriptMessage {
	return TranscriptMessage{Type: TypeTranscript, Text: text, IsFinal: isFinal}
}

func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}

func NewDone() DoneMessage {
	return DoneMessage{Type: TypeDone}
}
