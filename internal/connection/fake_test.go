package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rickgao/kis-vi/internal/auth"
)

// fakeTransport is a scripted in-memory Transport. Every subscription
// request it receives is answered according to the owning dialer's policy.
type fakeTransport struct {
	dialer *fakeDialer
	url    string

	mu      sync.Mutex
	sent    [][]byte
	pings   int
	pingErr error
	closed  bool

	inbound  chan []byte
	closedCh chan struct{}
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrAlreadyClosed
	}
	f.sent = append(f.sent, data)
	f.mu.Unlock()

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
	if json.Unmarshal(data, &req) != nil || req.Body.Input.TrID == "" {
		return nil
	}
	f.dialer.respond(f, req.Body.Input.TrID, req.Body.Input.TrKey)
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case data := <-f.inbound:
		return data, nil
	case <-f.closedCh:
		return nil, ErrAlreadyClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-expired:
		return nil, ErrReceiveTimeout
	}
}

func (f *fakeTransport) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.pingErr
}

func (f *fakeTransport) LastPong() time.Time {
	return time.Time{}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.closedCh)
	}
	return nil
}

func (f *fakeTransport) push(frames ...string) {
	for _, fr := range frames {
		f.inbound <- []byte(fr)
	}
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeTransport) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

// requests returns the "tr_id:tr_key" of every subscription request sent.
func (f *fakeTransport) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, data := range f.sent {
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
		if json.Unmarshal(data, &req) != nil || req.Body.Input.TrID == "" {
			continue
		}
		out = append(out, fmt.Sprintf("%s:%s:%s", req.Header.TrType, req.Body.Input.TrID, req.Body.Input.TrKey))
	}
	return out
}

func (f *fakeTransport) sentRaw() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, d := range f.sent {
		out[i] = string(d)
	}
	return out
}

// fakeDialer hands out fakeTransports and decides how requests are answered.
type fakeDialer struct {
	mu         sync.Mutex
	dialErr    error
	transports []*fakeTransport
	urls       []string

	// reject lists "tr_id:tr_key" pairs answered with rt_cd "1".
	reject map[string]bool
	// silent lists pairs that are never answered.
	silent map[string]bool
	// before is pushed ahead of every acknowledgement.
	before []string
	// ackOutput is attached to successful acknowledgements.
	ackOutput string
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		reject: make(map[string]bool),
		silent: make(map[string]bool),
	}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.urls = append(d.urls, url)
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	t := &fakeTransport{
		dialer:   d,
		url:      url,
		inbound:  make(chan []byte, 64),
		closedCh: make(chan struct{}),
	}
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) respond(t *fakeTransport, trID, trKey string) {
	d.mu.Lock()
	key := trID + ":" + trKey
	silent := d.silent[key]
	rejected := d.reject[key]
	before := d.before
	output := d.ackOutput
	d.mu.Unlock()

	if silent {
		return
	}
	t.push(before...)

	code, msg := "0", "SUBSCRIBE SUCCESS"
	if rejected {
		code, msg = "1", "ERROR : INVALID TR_KEY"
	}
	ack := fmt.Sprintf(`{"header":{"tr_id":%q,"tr_key":%q},"body":{"rt_cd":%q,"msg_cd":"OPSP0000","msg1":%q`, trID, trKey, code, msg)
	if output != "" && code == "0" {
		ack += `,"output":` + output
	}
	ack += "}}"
	t.push(ack)
}

func (d *fakeDialer) setDialErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErr = err
}

func (d *fakeDialer) setReject(pair string, v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reject[pair] = v
}

func (d *fakeDialer) setSilent(pair string, v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.silent[pair] = v
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// fakeGuard implements CredentialGuard.
type fakeGuard struct {
	cred      auth.Credential
	checkErr  error
	ensureErr error
	ensured   int
}

func newFakeGuard(live bool) *fakeGuard {
	return &fakeGuard{
		cred: auth.Credential{
			AccessToken: "token",
			TokenExpiry: time.Now().Add(24 * time.Hour),
			ApprovalKey: "approval-key",
			HTSID:       "hts-user",
			AppKey:      "app-key",
			AppSecret:   "app-secret",
			AccountNo:   "12345678",
			Live:        live,
		},
	}
}

func (g *fakeGuard) Check() error { return g.checkErr }

func (g *fakeGuard) EnsureApprovalKey(ctx context.Context) error {
	g.ensured++
	return g.ensureErr
}

func (g *fakeGuard) ApprovalKey() string { return g.cred.ApprovalKey }

func (g *fakeGuard) Credential() auth.Credential { return g.cred }

var errDialRefused = errors.New("connection refused")
