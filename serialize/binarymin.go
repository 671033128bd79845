package serialize

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/s2"

	"github.com/aguiran/p2play-js/wire"
)

// binaryMinCodec is the "binary-min" scheme: the same logical content
// as "json", CBOR-encoded into a compact binary form and then
// S2-compressed. A state_full snapshot is the one envelope whose size
// scales with world size, so compressing every envelope (rather than
// special-casing state_full) keeps the codec a single, uniform code
// path — S2 on an already-small move/ping frame costs a few
// microseconds and a handful of bytes of framing overhead, which is
// immaterial next to one UDP-ish SCTP message.
type binaryMinCodec struct{}

func (binaryMinCodec) Scheme() string { return SchemeBinaryMin }

func (binaryMinCodec) Encode(envelope wire.Envelope) ([]byte, error) {
	encoded, err := cbor.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("serialize: encoding cbor envelope: %w", err)
	}
	return s2.Encode(nil, encoded), nil
}

func (binaryMinCodec) Decode(data []byte) (wire.Envelope, error) {
	decompressed, err := s2.Decode(nil, data)
	if err != nil {
		return wire.Envelope{}, fmt.Errorf("%w: s2 decompress: %v", ErrMalformed, err)
	}
	// Decode generic maps as map[string]any, as the json scheme does,
	// so payloads and object data round-trip to the same Go types.
	dm, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		return wire.Envelope{}, fmt.Errorf("serialize: building cbor decoder: %w", err)
	}
	var envelope wire.Envelope
	if err := dm.Unmarshal(decompressed, &envelope); err != nil {
		return wire.Envelope{}, fmt.Errorf("%w: cbor decode: %v", ErrMalformed, err)
	}
	return envelope, nil
}
