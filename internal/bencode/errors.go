package bencode

import "errors"

// Sentinel error kinds from spec §4.B / §7. Wrapped with github.com/pkg/errors
// at call sites that need to attach positional context.
var (
	// ErrInvalidEncoding is returned for any malformed token: a string length
	// prefix that isn't a decimal integer, an unrecognized leading byte, a
	// leading zero or negative zero in an integer, a non-string dictionary
	// key, or a duplicate dictionary key. Keys out of byte-wise order are
	// accepted on decode.
	ErrInvalidEncoding = errors.New("bencode: invalid encoding")

	// ErrTruncated is returned when the input ends before a value that was
	// announced (by a length prefix or an unterminated container) completes.
	ErrTruncated = errors.New("bencode: truncated input")

	// ErrIntegerOverflow is returned when a decoded integer does not fit in
	// a signed 64-bit value.
	ErrIntegerOverflow = errors.New("bencode: integer overflow")

	// ErrTrailingData is returned by the strict whole-message decoders when
	// bytes remain after a complete top-level value.
	ErrTrailingData = errors.New("bencode: trailing data after value")
)
