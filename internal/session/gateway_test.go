package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/kis-vi/internal/auth"
)

const (
	triggerFrame = "0|H0STCNT0|001|005930^090512^71000"
	tradeFrame   = "0|H0STASP0|001|005930^090513^71100^5^100^0.14^71050^71000^71200^70900^71100^71000^10^123456"
)

// gateway simulates the streaming endpoint: it acknowledges every
// subscription request and lets tests push frames to the latest connection.
type gateway struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	conns    []*gatewayConn
	reject   map[string]bool
	afterAck map[string][]string // "tr_id:tr_key" -> frames pushed after the ack
	echoes   int
}

type gatewayConn struct {
	ws       *websocket.Conn
	writeMu  sync.Mutex
	mu       sync.Mutex
	requests []string // "tr_type:tr_id:tr_key"
}

func newGateway(t *testing.T) *gateway {
	g := &gateway{
		t:        t,
		reject:   make(map[string]bool),
		afterAck: make(map[string][]string),
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer ws.Close()

		c := &gatewayConn{ws: ws}
		g.mu.Lock()
		g.conns = append(g.conns, c)
		g.mu.Unlock()

		g.serve(c)
	}))
	t.Cleanup(g.server.Close)
	return g
}

func (g *gateway) url() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

func (g *gateway) serve(c *gatewayConn) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if string(data) == "PINGPONG" {
			g.mu.Lock()
			g.echoes++
			g.mu.Unlock()
			continue
		}

		var req struct {
			Header struct {
				TrType string `json:"tr_type"`
			} `json:"header"`
			Body struct {
				Input struct {
					TrID  string `json:"tr_id"`
					TrKey string `json:"tr_key"`
				} `json:"input"`
			} `json:"body"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		in := req.Body.Input
		if in.TrID == "" {
			// An echoed JSON heartbeat.
			g.mu.Lock()
			g.echoes++
			g.mu.Unlock()
			continue
		}

		c.mu.Lock()
		c.requests = append(c.requests, fmt.Sprintf("%s:%s:%s", req.Header.TrType, in.TrID, in.TrKey))
		c.mu.Unlock()

		key := in.TrID + ":" + in.TrKey
		g.mu.Lock()
		rejected := g.reject[key]
		var after []string
		if req.Header.TrType == "1" {
			after = g.afterAck[key]
		}
		g.mu.Unlock()

		code, msg := "0", "SUBSCRIBE SUCCESS"
		if req.Header.TrType == "2" {
			msg = "UNSUBSCRIBE SUCCESS"
		}
		if rejected {
			code, msg = "1", "ERROR"
		}
		c.write(fmt.Sprintf(`{"header":{"tr_id":%q,"tr_key":%q,"encrypt":"N"},"body":{"rt_cd":%q,"msg_cd":"OPSP0000","msg1":%q}}`,
			in.TrID, in.TrKey, code, msg))

		if !rejected {
			for _, f := range after {
				c.write(f)
			}
		}
	}
}

func (c *gatewayConn) write(frame string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (c *gatewayConn) requestLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.requests...)
}

func (g *gateway) onAck(pair string, frames ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.afterAck[pair] = frames
}

func (g *gateway) setReject(pair string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reject[pair] = true
}

func (g *gateway) latest() *gatewayConn {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.conns) == 0 {
		return nil
	}
	return g.conns[len(g.conns)-1]
}

func (g *gateway) connCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

func (g *gateway) echoCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.echoes
}

// push writes frames to the latest connection.
func (g *gateway) push(frames ...string) {
	c := g.latest()
	if c == nil {
		g.t.Fatal("no gateway connection")
	}
	for _, f := range frames {
		c.write(f)
	}
}

// drop closes every open connection from the server side.
func (g *gateway) drop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.conns {
		c.ws.Close()
	}
}

// testGuard implements connection.CredentialGuard.
type testGuard struct {
	cred     auth.Credential
	checkErr error
}

func newTestGuard() *testGuard {
	return &testGuard{cred: auth.Credential{
		AccessToken: "token",
		TokenExpiry: time.Now().Add(24 * time.Hour),
		ApprovalKey: "approval-key",
		HTSID:       "hts-user",
		AppKey:      "app-key",
		AppSecret:   "app-secret",
		AccountNo:   "12345678",
	}}
}

func (g *testGuard) Check() error { return g.checkErr }
func (g *testGuard) EnsureApprovalKey(ctx context.Context) error { return nil }
func (g *testGuard) ApprovalKey() string { return g.cred.ApprovalKey }
func (g *testGuard) Credential() auth.Credential { return g.cred }

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
