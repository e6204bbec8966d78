package dht

import "errors"

// ErrMalformedNodes is returned when a "nodes" field's length is not a
// multiple of the 26-byte compact node entry.
var ErrMalformedNodes = errors.New("dht: malformed compact node list")

// ErrCancelled is delivered to a transaction's continuation when the
// engine is stopped before a response or timeout.
var ErrCancelled = errors.New("dht: cancelled")
