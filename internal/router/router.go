package router

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/kis-vi/internal/model"
)

// Minimum positional field counts per channel.
const (
	triggerMinFields = 3  // symbol, time, price
	tradeMinFields   = 14 // symbol .. cumulative volume at index 13
)

// Channels names the TR codes the dispatcher turns into events.
type Channels struct {
	TriggerTrID string
	TradeTrID   string
}

// DispatchStats contains runtime statistics.
type DispatchStats struct {
	Triggers    int64
	Trades      int64
	Unknown     int64
	Encrypted   int64
	ParseErrors int64
}

// Dispatcher maps decoded data frames to typed market events.
// Frames for other channels, and encrypted frames, produce no events: their
// flag, tr_id and payload stay on the Frame for the caller, which logs them.
type Dispatcher struct {
	ch Channels

	triggers    atomic.Int64
	trades      atomic.Int64
	unknown     atomic.Int64
	encrypted   atomic.Int64
	parseErrors atomic.Int64
}

// NewDispatcher creates a dispatcher for the given channels.
func NewDispatcher(ch Channels) *Dispatcher {
	return &Dispatcher{ch: ch}
}

// Events returns the events carried by a data frame. A frame with any
// unparseable record yields no events and a *ProtocolError.
func (d *Dispatcher) Events(f Frame, receivedAt time.Time) ([]model.Event, error) {
	if f.Kind != KindData {
		return nil, nil
	}
	if f.Encrypted {
		d.encrypted.Add(1)
		return nil, nil
	}

	var parse func([]string, time.Time) (model.Event, error)
	switch f.TrID {
	case d.ch.TriggerTrID:
		parse = parseTrigger
	case d.ch.TradeTrID:
		parse = parseTrade
	default:
		d.unknown.Add(1)
		return nil, nil
	}

	records := splitRecords(f.Fields, f.Count)
	events := make([]model.Event, 0, len(records))
	for _, rec := range records {
		ev, err := parse(rec, receivedAt)
		if err != nil {
			d.parseErrors.Add(1)
			if pe, ok := err.(*ProtocolError); ok {
				pe.TrID = f.TrID
				pe.Frame = string(f.Raw)
			}
			return nil, err
		}
		events = append(events, ev)
	}

	for _, ev := range events {
		switch ev.(type) {
		case model.TriggerEvent:
			d.triggers.Add(1)
		case model.TradeTick:
			d.trades.Add(1)
		}
	}
	return events, nil
}

// Stats returns dispatch counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Triggers:    d.triggers.Load(),
		Trades:      d.trades.Load(),
		Unknown:     d.unknown.Load(),
		Encrypted:   d.encrypted.Load(),
		ParseErrors: d.parseErrors.Load(),
	}
}

// splitRecords cuts a multi-record payload into count equal records.
// Payloads that do not divide evenly are treated as a single record.
func splitRecords(fields []string, count int) [][]string {
	if count <= 1 || len(fields)%count != 0 {
		return [][]string{fields}
	}
	size := len(fields) / count
	out := make([][]string, 0, count)
	for i := 0; i < len(fields); i += size {
		out = append(out, fields[i:i+size])
	}
	return out
}

func parseTrigger(fields []string, receivedAt time.Time) (model.Event, error) {
	if len(fields) < triggerMinFields {
		return nil, &ProtocolError{Reason: "trigger record needs " + strconv.Itoa(triggerMinFields) + " fields, got " + strconv.Itoa(len(fields))}
	}
	if fields[0] == "" {
		return nil, &ProtocolError{Reason: "trigger record without symbol"}
	}

	price, err := decimal.NewFromString(fields[2])
	if err != nil {
		return nil, &ProtocolError{Reason: "invalid trigger price", Err: err}
	}

	ev := model.TriggerEvent{
		Code:       fields[0],
		Time:       fields[1],
		Price:      price,
		ReceivedAt: receivedAt,
	}
	if len(fields) > 3 {
		ev.Kind = fields[3]
	}
	return ev, nil
}

func parseTrade(fields []string, receivedAt time.Time) (model.Event, error) {
	if len(fields) < tradeMinFields {
		return nil, &ProtocolError{Reason: "trade record needs " + strconv.Itoa(tradeMinFields) + " fields, got " + strconv.Itoa(len(fields))}
	}
	if fields[0] == "" {
		return nil, &ProtocolError{Reason: "trade record without symbol"}
	}

	price, err := decimal.NewFromString(fields[2])
	if err != nil {
		return nil, &ProtocolError{Reason: "invalid trade price", Err: err}
	}
	volume, err := strconv.ParseInt(fields[13], 10, 64)
	if err != nil {
		return nil, &ProtocolError{Reason: "invalid cumulative volume", Err: err}
	}

	return model.TradeTick{
		Code:             fields[0],
		Price:            price,
		CumulativeVolume: volume,
		ReceivedAt:       receivedAt,
	}, nil
}
