package router

import (
	"encoding/json"
	"errors"
	"fmt"
)

// HeartbeatToken is the gateway's keepalive literal.
const HeartbeatToken = "PINGPONG"

// Return codes carried in body.rt_cd.
const (
	CodeSuccess = "0"
	CodeError   = "1"
)

// Errors
var (
	ErrMissingApprovalKey = errors.New("approval key is required")
	ErrInvalidDirection   = errors.New("invalid subscription direction")
	ErrMissingTrID        = errors.New("tr_id is required")
)

// Kind classifies an inbound frame.
type Kind int

const (
	KindHeartbeat Kind = iota + 1
	KindData
	KindControl
)

func (k Kind) String() string {
	switch k {
	case KindHeartbeat:
		return "heartbeat"
	case KindData:
		return "data"
	case KindControl:
		return "control"
	default:
		return "unknown"
	}
}

// Frame is one classified inbound frame.
type Frame struct {
	Kind Kind
	Raw  []byte

	// Data frames
	Encrypted bool
	TrID      string
	Count     int
	Payload   string
	Fields    []string

	// Control frames
	Control *Control
}

// Control is a decoded JSON control frame, usually a subscription acknowledgement.
type Control struct {
	TrID    string
	TrKey   string
	Code    string // body.rt_cd
	MsgCode string // body.msg_cd
	Message string // body.msg1
	Output  map[string]any
}

// OK reports whether the gateway accepted the request.
func (c *Control) OK() bool {
	return c.Code == CodeSuccess
}

// ProtocolError describes a frame that could not be decoded.
// The frame is discarded; the session continues.
type ProtocolError struct {
	TrID   string
	Reason string
	Frame  string
	Err    error
}

func (e *ProtocolError) Error() string {
	frame := e.Frame
	if len(frame) > 80 {
		frame = frame[:80] + "..."
	}
	msg := "protocol error: " + e.Reason
	if e.TrID != "" {
		msg += fmt.Sprintf(" (tr_id=%s)", e.TrID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if frame != "" {
		msg += fmt.Sprintf(" [%s]", frame)
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// -----------------------------------------------------------------------------
// Wire types
// -----------------------------------------------------------------------------

type controlFrame struct {
	Header struct {
		TrID    string `json:"tr_id"`
		TrKey   string `json:"tr_key"`
		Encrypt string `json:"encrypt"`
	} `json:"header"`
	Body struct {
		RtCd   string          `json:"rt_cd"`
		MsgCd  string          `json:"msg_cd"`
		Msg1   string          `json:"msg1"`
		Output json.RawMessage `json:"output"`
	} `json:"body"`
}

type requestFrame struct {
	Header requestHeader `json:"header"`
	Body   requestBody   `json:"body"`
}

type requestHeader struct {
	ApprovalKey string `json:"approval_key"`
	CustType    string `json:"custtype"`
	TrType      string `json:"tr_type"`
	ContentType string `json:"content-type"`
}

type requestBody struct {
	Input requestInput `json:"input"`
}

type requestInput struct {
	TrID  string `json:"tr_id"`
	TrKey string `json:"tr_key"`
}
