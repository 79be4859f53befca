// Package model defines the domain values shared across the monitor.
//
// Conventions:
//   - Symbols: six-digit KRX short codes (e.g. "005930")
//   - Prices: shopspring decimal, parsed from the gateway's integer won strings
//   - Trigger times: the gateway's local HHMMSS string, kept verbatim
//   - ReceivedAt: local wall clock when the frame was read
package model
