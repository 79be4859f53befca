package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Subscriptions
// -----------------------------------------------------------------------------

// Direction is the tr_type of a subscription request.
type Direction string

const (
	Subscribe   Direction = "1"
	Unsubscribe Direction = "2"
)

// String returns "subscribe" or "unsubscribe".
func (d Direction) String() string {
	switch d {
	case Subscribe:
		return "subscribe"
	case Unsubscribe:
		return "unsubscribe"
	default:
		return "unknown"
	}
}

// Subscription identifies one logical real-time channel.
type Subscription struct {
	TrID  string // Channel code (e.g. "H0STCNT0")
	TrKey string // Symbol code, HTS id, or empty for broadcast channels
}

func (s Subscription) String() string {
	if s.TrKey == "" {
		return s.TrID
	}
	return s.TrID + ":" + s.TrKey
}

// KeyMaterial is the AES key/iv pair delivered with the account channel ack.
type KeyMaterial struct {
	Key string
	IV  string
}

// IsZero reports whether no key material has been captured.
func (k KeyMaterial) IsZero() bool {
	return k.Key == "" && k.IV == ""
}

// -----------------------------------------------------------------------------
// Market events
// -----------------------------------------------------------------------------

// Event is a decoded market event. The concrete types are TriggerEvent and TradeTick.
type Event interface {
	Symbol() string
	Received() time.Time
	event()
}

// TriggerEvent is a volatility-interruption trigger for one symbol.
type TriggerEvent struct {
	Code       string          // Symbol code
	Time       string          // Trigger time (HHMMSS)
	Price      decimal.Decimal // Trigger price
	Kind       string          // Trigger type, empty when the frame omits it
	ReceivedAt time.Time
}

func (e TriggerEvent) Symbol() string      { return e.Code }
func (e TriggerEvent) Received() time.Time { return e.ReceivedAt }
func (TriggerEvent) event()                {}

// TradeTick is a per-symbol trade update.
type TradeTick struct {
	Code             string
	Price            decimal.Decimal
	CumulativeVolume int64
	ReceivedAt       time.Time
}

func (t TradeTick) Symbol() string      { return t.Code }
func (t TradeTick) Received() time.Time { return t.ReceivedAt }
func (TradeTick) event()                {}

// EventType returns a short label for logging and metrics.
func EventType(e Event) string {
	switch e.(type) {
	case TriggerEvent:
		return "trigger"
	case TradeTick:
		return "trade"
	default:
		return "unknown"
	}
}
