// Package serialize implements the two wire schemes an Envelope may be
// encoded with, per spec section 4.2: "json" (textual, payload is a
// string) and "binary-min" (opaque byte buffer). Decoding is a total
// inverse of encoding for valid input; unparsable input returns
// ErrMalformed, which callers convert into a silent drop rather than
// propagating.
package serialize

import (
	"errors"
	"fmt"

	"github.com/aguiran/p2play-js/wire"
)

// ErrMalformed wraps any decode failure: truncated frames, invalid
// JSON, invalid CBOR, or a payload that fails S2 decompression. It is
// always recoverable — callers must not propagate it, only log and
// drop the message (see spec section 7's "Malformed envelope" policy).
var ErrMalformed = errors.New("serialize: malformed envelope")

// ErrUnknownScheme is returned by New for any non-empty scheme other
// than "json" or "binary-min". Per spec section 4.2, an unknown scheme is a fatal
// configuration error — callers should treat it as unrecoverable at
// construction time, not retry or fall back.
var ErrUnknownScheme = errors.New("serialize: unknown scheme")

// Scheme names recognized by New.
const (
	SchemeJSON      = "json"
	SchemeBinaryMin = "binary-min"
)

// Serializer encodes and decodes NetMessage envelopes for one wire
// scheme. Decode must be a total inverse of Encode for every value
// Encode can produce.
type Serializer interface {
	// Scheme returns the scheme name this Serializer was constructed with.
	Scheme() string

	// Encode serializes an envelope. For "json" the result is UTF-8
	// text; for "binary-min" it is an opaque compressed binary buffer.
	Encode(envelope wire.Envelope) ([]byte, error)

	// Decode is the inverse of Encode. Returns ErrMalformed (wrapped)
	// for any input that does not round-trip.
	Decode(data []byte) (wire.Envelope, error)
}

// New constructs the Serializer for scheme ("json" or "binary-min");
// an empty scheme selects "json". Any other value is a fatal
// configuration error.
func New(scheme string) (Serializer, error) {
	switch scheme {
	case SchemeJSON, "":
		return jsonCodec{}, nil
	case SchemeBinaryMin:
		return binaryMinCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
}
