// Package session runs the streaming receive loop.
//
// A Session is the only goroutine that touches the connection, the
// subscription registry, the decoder, and the trigger tracker. It turns
// gateway frames into model events and queues them for a single consumer
// reading Events. The sequence ends when Shutdown is called or the
// reconnect cap is exhausted; Err reports which.
package session
