// Package connection implements the Connection Manager and the
// Subscription Registry.
//
// The Connection Manager:
//   - Refuses to connect with an expired token and issues the approval key on demand
//   - Opens one websocket to the live or paper endpoint
//   - Establishes the mandatory account channel as part of every connect
//   - Probes liveness (every health check, or by ping interval and silence window)
//   - Reconnects with a fixed delay up to a capped number of attempts
//
// The Subscription Registry sends one request at a time and waits for its
// acknowledgement. Every active subscription is replayed, in the order it
// was first established, after each successful connect.
//
// Both are owned by a single receive loop. Only Shutdown and Status may be
// called from other goroutines.
package connection
