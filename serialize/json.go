package serialize

import (
	"encoding/json"
	"fmt"

	"github.com/aguiran/p2play-js/wire"
)

// jsonCodec is the "json" scheme: a textual encoding of the envelope.
// The result is valid UTF-8 and, for callers that need it, valid JSON
// text — most reference signaling relays and browser test harnesses
// speak this scheme by default.
type jsonCodec struct{}

func (jsonCodec) Scheme() string { return SchemeJSON }

func (jsonCodec) Encode(envelope wire.Envelope) ([]byte, error) {
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("serialize: encoding json envelope: %w", err)
	}
	return data, nil
}

func (jsonCodec) Decode(data []byte) (wire.Envelope, error) {
	var envelope wire.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return wire.Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return envelope, nil
}
