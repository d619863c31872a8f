package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonUpstreamAuth    ReasonCode = "upstream_auth"
	ReasonUpstreamConnect ReasonCode = "upstream_connect"
	ReasonUpstreamTimeout ReasonCode = "upstream_timeout"
	ReasonUpstreamSend    ReasonCode = "upstream_send"

	ReasonClientSend ReasonCode = "client_send"

	ReasonConfigLoad ReasonCode = "config_load"
)
