package router

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rickgao/kis-vi/internal/model"
)

// DecoderStats contains frame classification counters.
type DecoderStats struct {
	Heartbeats    int64
	DataFrames    int64
	ControlFrames int64
	ParseErrors   int64
}

// Decoder classifies raw gateway frames. Classification order is
// heartbeat, then data ('0' or '1' prefix), then JSON control.
//
// The decoder also captures the AES key material delivered with a
// successful acknowledgement on any of the account channels.
type Decoder struct {
	accountTrIDs map[string]struct{}

	mu   sync.RWMutex
	keys model.KeyMaterial

	heartbeats    atomic.Int64
	dataFrames    atomic.Int64
	controlFrames atomic.Int64
	parseErrors   atomic.Int64
}

// NewDecoder creates a decoder. accountTrIDs name the channels whose
// acknowledgements carry key material.
func NewDecoder(accountTrIDs ...string) *Decoder {
	ids := make(map[string]struct{}, len(accountTrIDs))
	for _, id := range accountTrIDs {
		ids[id] = struct{}{}
	}
	return &Decoder{accountTrIDs: ids}
}

// Decode classifies one frame. A *ProtocolError is returned for frames that
// cannot be decoded.
func (d *Decoder) Decode(raw []byte) (Frame, error) {
	text := bytes.TrimSpace(raw)

	switch {
	case len(text) == 0:
		return d.fail(&ProtocolError{Reason: "empty frame"})

	case string(text) == HeartbeatToken:
		d.heartbeats.Add(1)
		return Frame{Kind: KindHeartbeat, Raw: raw}, nil

	case text[0] == '0' || text[0] == '1':
		f, err := parseData(string(text))
		if err != nil {
			return d.fail(err)
		}
		f.Raw = raw
		d.dataFrames.Add(1)
		return f, nil
	}

	var cf controlFrame
	if err := json.Unmarshal(text, &cf); err != nil {
		return d.fail(&ProtocolError{Reason: "invalid control json", Frame: string(text), Err: err})
	}

	// The gateway's keepalive arrives as a JSON frame tagged with the token.
	if cf.Header.TrID == HeartbeatToken {
		d.heartbeats.Add(1)
		return Frame{Kind: KindHeartbeat, Raw: raw}, nil
	}
	if cf.Header.TrID == "" {
		return d.fail(&ProtocolError{Reason: "control frame without tr_id", Frame: string(text)})
	}

	ctrl := &Control{
		TrID:    cf.Header.TrID,
		TrKey:   cf.Header.TrKey,
		Code:    cf.Body.RtCd,
		MsgCode: cf.Body.MsgCd,
		Message: cf.Body.Msg1,
	}
	if len(cf.Body.Output) > 0 && string(cf.Body.Output) != "null" {
		if err := json.Unmarshal(cf.Body.Output, &ctrl.Output); err != nil {
			return d.fail(&ProtocolError{TrID: ctrl.TrID, Reason: "invalid output object", Frame: string(text), Err: err})
		}
	}

	if ctrl.OK() {
		d.captureKeys(ctrl)
	}

	d.controlFrames.Add(1)
	return Frame{Kind: KindControl, Raw: raw, TrID: ctrl.TrID, Control: ctrl}, nil
}

// KeyMaterial returns the most recently captured AES key/iv.
func (d *Decoder) KeyMaterial() model.KeyMaterial {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.keys
}

// Stats returns classification counters.
func (d *Decoder) Stats() DecoderStats {
	return DecoderStats{
		Heartbeats:    d.heartbeats.Load(),
		DataFrames:    d.dataFrames.Load(),
		ControlFrames: d.controlFrames.Load(),
		ParseErrors:   d.parseErrors.Load(),
	}
}

func (d *Decoder) captureKeys(ctrl *Control) {
	if _, ok := d.accountTrIDs[ctrl.TrID]; !ok || ctrl.Output == nil {
		return
	}
	key, _ := ctrl.Output["key"].(string)
	iv, _ := ctrl.Output["iv"].(string)
	if key == "" && iv == "" {
		return
	}

	d.mu.Lock()
	d.keys = model.KeyMaterial{Key: key, IV: iv}
	d.mu.Unlock()
}

func (d *Decoder) fail(err error) (Frame, error) {
	d.parseErrors.Add(1)
	return Frame{}, err
}

// parseData splits "<flag>|<tr_id>|<count>|<payload>".
func parseData(text string) (Frame, error) {
	parts := strings.SplitN(text, "|", 4)
	if len(parts) < 4 {
		return Frame{}, &ProtocolError{
			Reason: "data frame needs 4 |-separated fields, got " + strconv.Itoa(len(parts)),
			Frame:  text,
		}
	}

	flag, trID := parts[0], parts[1]
	if flag != "0" && flag != "1" {
		return Frame{}, &ProtocolError{TrID: trID, Reason: "unknown encryption flag " + strconv.Quote(flag), Frame: text}
	}
	if trID == "" {
		return Frame{}, &ProtocolError{Reason: "data frame without tr_id", Frame: text}
	}

	count, err := strconv.Atoi(parts[2])
	if err != nil || count < 0 {
		return Frame{}, &ProtocolError{TrID: trID, Reason: "invalid record count", Frame: text, Err: err}
	}

	return Frame{
		Kind:      KindData,
		Encrypted: flag == "1",
		TrID:      trID,
		Count:     count,
		Payload:   parts[3],
		Fields:    strings.Split(parts[3], "^"),
	}, nil
}
