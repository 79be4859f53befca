// Package strategy consumes the session's event sequence.
//
// A Strategy supplies the capability hooks; a Driver supplies the fixed
// lifecycle around them. Strategies compose with Chain.
package strategy

import (
	"context"
	"iter"

	"github.com/rickgao/kis-vi/internal/model"
)

// Strategy handles market events.
type Strategy interface {
	// Name identifies the strategy in logs.
	Name() string

	// Initialize prepares the strategy before the first event.
	Initialize(ctx context.Context) error

	// ProcessData handles one event. An error is logged by the driver and
	// does not stop the stream.
	ProcessData(ctx context.Context, ev model.Event) error

	// Cleanup releases resources. It is called once, after the last event.
	Cleanup(ctx context.Context) error
}

// Source produces the event sequence.
type Source interface {
	Events() iter.Seq[model.Event]
}
