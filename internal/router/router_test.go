package router

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/kis-vi/internal/model"
)

func testChannels() Channels {
	return Channels{TriggerTrID: "H0STCNT0", TradeTrID: "H0STASP0"}
}

// tradePayload builds a 14-field trade record.
func tradePayload(symbol, price, volume string) string {
	fields := make([]string, 14)
	for i := range fields {
		fields[i] = "0"
	}
	fields[0], fields[2], fields[13] = symbol, price, volume
	return strings.Join(fields, "^")
}

func TestDecoder_Heartbeat(t *testing.T) {
	d := NewDecoder("H0STCNI0")

	for _, raw := range []string{
		"PINGPONG",
		`{"header":{"tr_id":"PINGPONG","datetime":"20240319093000"}}`,
	} {
		f, err := d.Decode([]byte(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, KindHeartbeat, f.Kind)
		assert.Equal(t, raw, string(f.Raw), "raw frame kept for echo")
	}

	assert.Equal(t, int64(2), d.Stats().Heartbeats)
}

func TestDecoder_DataFrame(t *testing.T) {
	d := NewDecoder()

	f, err := d.Decode([]byte("0|H0STCNT0|001|005930^093015^71500"))
	require.NoError(t, err)

	assert.Equal(t, KindData, f.Kind)
	assert.False(t, f.Encrypted)
	assert.Equal(t, "H0STCNT0", f.TrID)
	assert.Equal(t, 1, f.Count)
	assert.Equal(t, []string{"005930", "093015", "71500"}, f.Fields)
}

func TestDecoder_MalformedDataFrame(t *testing.T) {
	d := NewDecoder()

	tests := []string{
		"0|H0STCNT0|001",
		"0|H0STCNT0",
		"1",
		"0|H0STCNT0|abc|005930",
		"01|H0STCNT0|001|005930",
	}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			f, err := d.Decode([]byte(raw))
			require.Error(t, err)

			var pe *ProtocolError
			assert.True(t, errors.As(err, &pe), "want *ProtocolError, got %T", err)
			assert.Zero(t, f.Kind)
		})
	}

	assert.Equal(t, int64(len(tests)), d.Stats().ParseErrors)
}

func TestDecoder_ControlAck(t *testing.T) {
	d := NewDecoder("H0STCNI0")

	ok := `{"header":{"tr_id":"H0STCNT0","tr_key":"","encrypt":"N"},"body":{"rt_cd":"0","msg_cd":"OPSP0000","msg1":"SUBSCRIBE SUCCESS","output":{"iv":"","key":""}}}`
	f, err := d.Decode([]byte(ok))
	require.NoError(t, err)
	require.Equal(t, KindControl, f.Kind)
	require.NotNil(t, f.Control)
	assert.True(t, f.Control.OK())
	assert.Equal(t, "SUBSCRIBE SUCCESS", f.Control.Message)

	rejected := `{"header":{"tr_id":"H0STCNT0","tr_key":""},"body":{"rt_cd":"1","msg_cd":"OPSP8996","msg1":"ALREADY IN SUBSCRIBE"}}`
	f, err = d.Decode([]byte(rejected))
	require.NoError(t, err)
	assert.False(t, f.Control.OK())
	assert.Equal(t, "OPSP8996", f.Control.MsgCode)
	assert.Nil(t, f.Control.Output)
}

func TestDecoder_CapturesAccountKeys(t *testing.T) {
	d := NewDecoder("H0STCNI0", "H0STCNI9")
	assert.True(t, d.KeyMaterial().IsZero())

	// Keys on other channels are ignored.
	other := `{"header":{"tr_id":"H0STCNT0"},"body":{"rt_cd":"0","msg1":"OK","output":{"key":"x","iv":"y"}}}`
	_, err := d.Decode([]byte(other))
	require.NoError(t, err)
	assert.True(t, d.KeyMaterial().IsZero())

	ack := `{"header":{"tr_id":"H0STCNI9","tr_key":"hts01"},"body":{"rt_cd":"0","msg1":"SUBSCRIBE SUCCESS","output":{"key":"abcdefghijklmnopqrstuvwxyz123456","iv":"1234567890abcdef"}}}`
	_, err = d.Decode([]byte(ack))
	require.NoError(t, err)

	assert.Equal(t, model.KeyMaterial{Key: "abcdefghijklmnopqrstuvwxyz123456", IV: "1234567890abcdef"}, d.KeyMaterial())
}

func TestDecoder_InvalidControl(t *testing.T) {
	d := NewDecoder()

	for _, raw := range []string{"{not json", `{"body":{"rt_cd":"0"}}`, "   "} {
		_, err := d.Decode([]byte(raw))
		var pe *ProtocolError
		assert.True(t, errors.As(err, &pe), "input %q: want *ProtocolError, got %v", raw, err)
	}
}

func TestEncodeRequest(t *testing.T) {
	data, err := EncodeRequest("approval-123", model.Subscribe, model.Subscription{TrID: "H0STCNT0", TrKey: ""})
	require.NoError(t, err)

	var got map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, map[string]any{
		"approval_key": "approval-123",
		"custtype":     "P",
		"tr_type":      "1",
		"content-type": "utf-8",
	}, got["header"])
	assert.Equal(t, map[string]any{
		"input": map[string]any{"tr_id": "H0STCNT0", "tr_key": ""},
	}, got["body"])

	data, err = EncodeRequest("approval-123", model.Unsubscribe, model.Subscription{TrID: "H0STASP0", TrKey: "005930"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tr_type":"2"`)
	assert.Contains(t, string(data), `"tr_key":"005930"`)
}

func TestEncodeRequest_Errors(t *testing.T) {
	sub := model.Subscription{TrID: "H0STCNT0"}

	_, err := EncodeRequest("", model.Subscribe, sub)
	assert.ErrorIs(t, err, ErrMissingApprovalKey)

	_, err = EncodeRequest("key", model.Direction("3"), sub)
	assert.ErrorIs(t, err, ErrInvalidDirection)

	_, err = EncodeRequest("key", model.Subscribe, model.Subscription{})
	assert.ErrorIs(t, err, ErrMissingTrID)
}

func TestDispatcher_Trigger(t *testing.T) {
	d := NewDecoder()
	disp := NewDispatcher(testChannels())
	now := time.Date(2024, 3, 19, 9, 30, 15, 0, time.UTC)

	f, err := d.Decode([]byte("0|H0STCNT0|001|005930^093015^71500^1"))
	require.NoError(t, err)

	events, err := disp.Events(f, now)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev, ok := events[0].(model.TriggerEvent)
	require.True(t, ok, "want TriggerEvent, got %T", events[0])
	assert.Equal(t, "005930", ev.Code)
	assert.Equal(t, "093015", ev.Time)
	assert.Equal(t, "71500", ev.Price.String())
	assert.Equal(t, "1", ev.Kind)
	assert.Equal(t, now, ev.ReceivedAt)
}

func TestDispatcher_Trade(t *testing.T) {
	d := NewDecoder()
	disp := NewDispatcher(testChannels())

	f, err := d.Decode([]byte("0|H0STASP0|001|" + tradePayload("005930", "71600", "1523400")))
	require.NoError(t, err)

	events, err := disp.Events(f, time.Now())
	require.NoError(t, err)
	require.Len(t, events, 1)

	tick, ok := events[0].(model.TradeTick)
	require.True(t, ok)
	assert.Equal(t, "005930", tick.Code)
	assert.Equal(t, "71600", tick.Price.String())
	assert.Equal(t, int64(1523400), tick.CumulativeVolume)
}

func TestDispatcher_MultiRecord(t *testing.T) {
	d := NewDecoder()
	disp := NewDispatcher(testChannels())

	f, err := d.Decode([]byte("0|H0STCNT0|002|005930^093015^71500^000660^093016^130000"))
	require.NoError(t, err)

	events, err := disp.Events(f, time.Now())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "005930", events[0].Symbol())
	assert.Equal(t, "000660", events[1].Symbol())
}

func TestDispatcher_ShortTradeRecord(t *testing.T) {
	d := NewDecoder()
	disp := NewDispatcher(testChannels())

	f, err := d.Decode([]byte("0|H0STASP0|001|005930^0^71600"))
	require.NoError(t, err)

	events, err := disp.Events(f, time.Now())
	assert.Empty(t, events)

	var pe *ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "H0STASP0", pe.TrID)
	assert.Equal(t, int64(1), disp.Stats().ParseErrors)
}

func TestDispatcher_PassThrough(t *testing.T) {
	d := NewDecoder()
	disp := NewDispatcher(testChannels())

	tests := []struct {
		name string
		raw  string
	}{
		{"unknown tr_id", "0|H0STCNI0|001|a^b^c"},
		{"encrypted", "1|H0STCNI0|001|ZW5jcnlwdGVk"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := d.Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, "H0STCNI0", f.TrID)
			assert.NotEmpty(t, f.Payload)

			events, err := disp.Events(f, time.Now())
			assert.NoError(t, err)
			assert.Empty(t, events)
		})
	}

	stats := disp.Stats()
	assert.Equal(t, int64(1), stats.Unknown)
	assert.Equal(t, int64(1), stats.Encrypted)
}

func TestDispatcher_IgnoresNonData(t *testing.T) {
	disp := NewDispatcher(testChannels())

	events, err := disp.Events(Frame{Kind: KindHeartbeat}, time.Now())
	assert.NoError(t, err)
	assert.Nil(t, events)
}
