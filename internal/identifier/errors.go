package identifier

import "errors"

// ErrInvalidEncoding is returned when a NodeID/InfoHash or Endpoint can't be
// parsed: wrong byte length, a length-40 hex string with a non-hex
// character, or a malformed endpoint.
var ErrInvalidEncoding = errors.New("identifier: invalid encoding")
