package call

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures that end a call attempt.
type ErrorKind string

const (
	KindMediaUnavailable            ErrorKind = "media_unavailable"
	KindTransportConstructionFailed ErrorKind = "transport_construction_failed"
	KindPeerUnreachable             ErrorKind = "peer_unreachable"
	KindSignalingDeliveryUnknown    ErrorKind = "signaling_delivery_unknown"
)

// Describe returns a short human-readable headline for the kind.
func (k ErrorKind) Describe() string {
	switch k {
	case KindMediaUnavailable:
		return "Camera or microphone is not available"
	case KindTransportConstructionFailed:
		return "Could not set up the media connection"
	case KindPeerUnreachable:
		return "Connection to the other participant failed"
	case KindSignalingDeliveryUnknown:
		return "The other participant did not answer"
	default:
		return "Call failed"
	}
}

// Error is a classified call failure.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrPeerUnreachable)
// works regardless of detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind ErrorKind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

var (
	ErrMediaUnavailable            = &Error{Kind: KindMediaUnavailable}
	ErrTransportConstructionFailed = &Error{Kind: KindTransportConstructionFailed}
	ErrPeerUnreachable             = &Error{Kind: KindPeerUnreachable}
	ErrSignalingDeliveryUnknown    = &Error{Kind: KindSignalingDeliveryUnknown}
)

var (
	ErrCallSelf      = errors.New("cannot call yourself")
	ErrNoTarget      = errors.New("target identity is required")
	ErrInvalidState  = errors.New("operation not valid in current call state")
	ErrMachineClosed = errors.New("call machine stopped")
)

// KindOf extracts the classification of err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}
