package connection

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/rickgao/kis-vi/internal/metrics"
	"github.com/rickgao/kis-vi/internal/model"
	"github.com/rickgao/kis-vi/internal/router"
)

// Registry issues subscribe and unsubscribe requests and remembers, in the
// order they were first established, which subscriptions are active so they
// can be replayed after a reconnect.
//
// Requests are strictly one at a time: each send waits for exactly one
// acknowledgement before returning. Subscribe, Unsubscribe, and the
// manager's Receive must be called from the same goroutine.
type Registry struct {
	mgr       *Manager
	isAccount func(trID string) bool
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// active is also read by Status from other goroutines.
	mu     sync.Mutex
	active []model.Subscription
}

func newRegistry(mgr *Manager, isAccount func(string) bool, logger *slog.Logger, mt *metrics.Metrics) *Registry {
	return &Registry{
		mgr:       mgr,
		isAccount: isAccount,
		logger:    logger.With("component", "registry"),
		metrics:   mt,
	}
}

// Subscribe requests a channel. It returns false when the gateway rejects
// the request with the error return code, and an error when no
// acknowledgement could be obtained.
func (r *Registry) Subscribe(ctx context.Context, trID, trKey string) (bool, error) {
	ctrl, err := r.request(ctx, model.Subscribe, model.Subscription{TrID: trID, TrKey: trKey})
	if err != nil {
		return false, err
	}
	return ctrl.OK(), nil
}

// Unsubscribe releases a channel with the same key it was opened with.
func (r *Registry) Unsubscribe(ctx context.Context, trID, trKey string) (bool, error) {
	ctrl, err := r.request(ctx, model.Unsubscribe, model.Subscription{TrID: trID, TrKey: trKey})
	if err != nil {
		return false, err
	}
	return ctrl.OK(), nil
}

// IsActive reports whether sub is in the active set.
func (r *Registry) IsActive(sub model.Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.active, sub)
}

// Active returns the active subscriptions in establishment order.
func (r *Registry) Active() []model.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.active)
}

// request sends one control frame and updates the active set from the
// acknowledgement. Transport failures mark the connection dead.
func (r *Registry) request(ctx context.Context, dir model.Direction, sub model.Subscription) (*router.Control, error) {
	logger := r.logger.With("tr_id", sub.TrID, "tr_key", sub.TrKey, "direction", dir.String())

	payload, err := router.EncodeRequest(r.mgr.approvalKey(), dir, sub)
	if err != nil {
		r.metrics.SubscriptionResult(sub.TrID, dir.String(), "error")
		return nil, err
	}

	ctrl, err := r.mgr.exchange(ctx, payload)
	if err != nil {
		r.metrics.SubscriptionResult(sub.TrID, dir.String(), "error")
		logger.Error("subscription request failed", "error", err)

		var te *TransportError
		if errors.As(err, &te) {
			r.mgr.MarkDead(err)
		}
		return nil, err
	}

	if !ctrl.OK() {
		r.metrics.SubscriptionResult(sub.TrID, dir.String(), "rejected")
		logger.Warn("subscription rejected",
			"rt_cd", ctrl.Code,
			"msg_cd", ctrl.MsgCode,
			"msg", ctrl.Message,
		)
		return ctrl, nil
	}

	r.metrics.SubscriptionResult(sub.TrID, dir.String(), "ok")
	logger.Info("subscription acknowledged", "msg", ctrl.Message)

	r.mu.Lock()
	switch dir {
	case model.Subscribe:
		if !slices.Contains(r.active, sub) {
			r.active = append(r.active, sub)
		}
	case model.Unsubscribe:
		r.active = slices.DeleteFunc(r.active, func(s model.Subscription) bool { return s == sub })
	}
	r.mu.Unlock()

	return ctrl, nil
}

// replay reissues every active subscription except the account channel,
// which connect has already established. A subscription the gateway rejects
// is dropped from the active set. A transport failure stops the replay and
// is returned; that subscription and the rest stay active for the next
// connection.
func (r *Registry) replay(ctx context.Context) error {
	for _, sub := range r.Active() {
		if r.isAccount(sub.TrID) {
			continue
		}

		ctrl, err := r.request(ctx, model.Subscribe, sub)
		if err == nil && ctrl.OK() {
			continue
		}

		var te *TransportError
		if errors.As(err, &te) || ctx.Err() != nil || (err != nil && !r.mgr.Connected()) {
			r.logger.Warn("replay interrupted", "tr_id", sub.TrID, "tr_key", sub.TrKey, "error", err)
			return err
		}

		subErr := &SubscriptionError{TrID: sub.TrID, TrKey: sub.TrKey, Err: err}
		if ctrl != nil {
			subErr.Code = ctrl.Code
			subErr.Message = ctrl.Message
		}
		r.logger.Warn("dropping subscription after failed replay", "error", subErr)
		r.remove(sub)
	}
	return nil
}

func (r *Registry) remove(sub model.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = slices.DeleteFunc(r.active, func(s model.Subscription) bool { return s == sub })
}
