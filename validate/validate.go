// Package validate implements the message validator of spec section
// 4.5: a pure structural predicate over a decoded envelope. It never
// mutates state and never emits events — the state manager is the
// only caller, and it treats a false return as a silent drop with an
// optional debug trace.
//
// Structural rules are expressed as JSON Schema, one document per
// message type, compiled once at construction and evaluated against
// the envelope's generic JSON-shaped form. This is the same
// declarative-validation role santhosh-tekuri/jsonschema/v5 plays for
// inbound client commands elsewhere in the reference pack, in place of
// a hand-rolled chain of type assertions.
package validate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/aguiran/p2play-js/wire"
)

// baseProperties is spliced into the properties of every per-type
// schema: string t, string from, and numeric ts.
const baseProperties = `
	"t": {"type": "string"},
	"from": {"type": "string", "minLength": 1},
	"ts": {"type": "number"}
`

var schemaSource = map[wire.MessageType]string{
	wire.MessageMove: `{
		"type": "object",
		"required": ["t", "from", "ts", "position"],
		"properties": {` + baseProperties + `,
			"position": {
				"type": "object",
				"required": ["x", "y"],
				"properties": {"x": {"type": "number"}, "y": {"type": "number"}}
			}
		}
	}`,
	wire.MessageInventory: `{
		"type": "object",
		"required": ["t", "from", "ts", "items"],
		"properties": {` + baseProperties + `,
			"items": {"type": "array"}
		}
	}`,
	wire.MessageTransfer: `{
		"type": "object",
		"required": ["t", "from", "ts", "to", "item"],
		"properties": {` + baseProperties + `,
			"to": {"type": "string", "minLength": 1},
			"item": {
				"type": "object",
				"required": ["id", "quantity"],
				"properties": {
					"id": {"type": "string"},
					"quantity": {"type": "number"}
				}
			}
		}
	}`,
	wire.MessageStateFull: `{
		"type": "object",
		"required": ["t", "from", "ts", "state"],
		"properties": {` + baseProperties + `,
			"state": {"type": "object"}
		}
	}`,
	wire.MessageStateDelta: `{
		"type": "object",
		"required": ["t", "from", "ts", "delta"],
		"properties": {` + baseProperties + `,
			"delta": {"type": "object"}
		}
	}`,
	wire.MessagePayload: `{
		"type": "object",
		"required": ["t", "from", "ts"],
		"properties": {` + baseProperties + `}
	}`,
}

// Validator compiles one schema per accepted message type and accepts
// or rejects decoded envelopes against them.
type Validator struct {
	schemas map[wire.MessageType]*jsonschema.Schema
}

// New compiles the fixed set of per-type schemas. Compilation failure
// here indicates a bug in this package's embedded schema source, not
// a runtime condition callers can recover from, so New panics rather
// than returning an error — mirroring how a malformed embedded schema
// would be caught in any test run before ever reaching production.
func New() *Validator {
	compiler := jsonschema.NewCompiler()
	schemas := make(map[wire.MessageType]*jsonschema.Schema, len(schemaSource))

	for messageType, source := range schemaSource {
		url := "mem://" + string(messageType) + ".json"
		if err := compiler.AddResource(url, strings.NewReader(source)); err != nil {
			panic(fmt.Sprintf("validate: adding schema resource for %q: %v", messageType, err))
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			panic(fmt.Sprintf("validate: compiling schema for %q: %v", messageType, err))
		}
		schemas[messageType] = schema
	}

	return &Validator{schemas: schemas}
}

// Accept reports whether envelope is structurally valid for its own
// type. Any type not in the fixed accepted set (including ping/pong,
// which never reach this layer in practice — the peer manager answers
// them before they hit the bus) is rejected.
func (v *Validator) Accept(envelope wire.Envelope) bool {
	schema, ok := v.schemas[envelope.T]
	if !ok {
		return false
	}

	decoded, err := toGenericValue(envelope)
	if err != nil {
		return false
	}

	return schema.Validate(decoded) == nil
}

// toGenericValue converts envelope into the plain
// map[string]any/[]any/primitive tree that jsonschema.Schema.Validate
// expects, via a JSON round trip.
func toGenericValue(envelope wire.Envelope) (any, error) {
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}
	var decoded any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}
