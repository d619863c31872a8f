package relay

import (
	"net/url"
	"strconv"
)

const (
	ModeEcho   = "echo"
	ModeStream = "stream"

	EncodingOpus  = "opus"
	EncodingPCM16 = "pcm16"

	defaultSampleRate = 48000
)

// HandshakeParams are the session parameters negotiated once from the
// connection URL's query string. They never change for the lifetime of
// the session.
type HandshakeParams struct {
	Mode       string
	Encoding   string
	SampleRate int
	Punctuate  bool
}

// ParseHandshake reads mode, enc, sr and punct from the query string.
// Anything missing or malformed keeps its default; a bad handshake is
// never a reason to drop the connection.
func ParseHandshake(q url.Values) HandshakeParams {
	p := HandshakeParams{
		Mode:       ModeEcho,
		Encoding:   EncodingOpus,
		SampleRate: defaultSampleRate,
	}
	if q.Get("mode") == ModeStream {
		p.Mode = ModeStream
	}
	if q.Get("enc") == EncodingPCM16 {
		p.Encoding = EncodingPCM16
	}
	if raw := q.Get("sr"); raw != "" {
		if sr, err := strconv.Atoi(raw); err == nil && sr > 0 {
			p.SampleRate = sr
		}
	}
	if q.Get("punct") == "true" {
		p.Punctuate = true
	}
	return p
}
