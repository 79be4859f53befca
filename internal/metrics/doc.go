// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Frames received by kind and protocol errors
//   - Connect results, reconnect attempts and keepalive failures
//   - Subscription requests by channel and outcome
//   - Market events emitted and currently active trigger windows
//   - Journal inserts and write errors
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics
