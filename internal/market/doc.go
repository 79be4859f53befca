// Package market tracks volatility-interruption state per symbol and knows
// when the Korea Exchange is trading.
//
// The Tracker records a symbol the first time a trigger is observed and asks
// its Subscriber to open the symbol's trade channel. Entries expire passively:
// only a trade tick seen more than the window after the trigger removes one.
//
// Hours wraps the XKRX calendar so callers can wait for the session to open.
package market
