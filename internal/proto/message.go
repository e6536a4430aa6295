package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	TypeIdentityAssigned = "identity-assigned"
	TypeCallOffer        = "call-offer"
	TypeCallAnswer       = "call-answer"
	TypeDisconnectNotify = "disconnect-notify"
	TypeError            = "error"
)

// CallOfferData carries a call invite. CallerIdentity is informational; the
// hub stamps the real sender into Outbound.From.
type CallOfferData struct {
	TargetIdentity    string `json:"targetIdentity"`
	CallerIdentity    string `json:"callerIdentity,omitempty"`
	CallerDisplayName string `json:"callerDisplayName"`
	CallerRole        string `json:"callerRole,omitempty"`
	SetupPayload      []byte `json:"setupPayload"`
}

// CallAnswerData carries a call acceptance back to the caller.
type CallAnswerData struct {
	TargetIdentity string `json:"targetIdentity,omitempty"`
	SetupPayload   []byte `json:"setupPayload"`
}

// DisconnectNotifyData tells the peer the call is over. Presence alone is the
// signal; receivers identify the peer by Outbound.From.
type DisconnectNotifyData struct {
	TargetIdentity string `json:"targetIdentity,omitempty"`
}

// IdentityAssignedData is the first message every client receives.
type IdentityAssignedData struct {
	Identity string `json:"identity"`
	Protocol int    `json:"protocol"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string          `json:"type"`
	From  string          `json:"from,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// Error codes sent in error envelopes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeInvalidMessage = "invalid_message"
	ErrCodeRateLimited    = "rate_limited"
)

// NewInbound marshals data into an inbound envelope.
func NewInbound(msgType string, data any) (Inbound, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Inbound{}, err
	}
	return Inbound{Type: msgType, Data: raw}, nil
}
