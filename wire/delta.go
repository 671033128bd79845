package wire

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PathChange is one leaf write in a StateDelta. Path is a
// dot-separated identifier sequence navigating GlobalGameState with no
// array indices (e.g. "players.alice.position", "objects.chest-1").
type PathChange struct {
	Path  string `json:"path" cbor:"path"`
	Value any    `json:"value" cbor:"value"`
}

// StateDelta is a tick-stamped batch of path writes.
type StateDelta struct {
	Tick    int64        `json:"tick" cbor:"tick"`
	Changes []PathChange `json:"changes" cbor:"changes"`
}

// ApplyDelta applies every change in delta to state in order: each
// path is walked from the root, creating any missing intermediate
// mapping, then the leaf is overwritten with a deep copy of the
// change's value. Finally state.Tick is set to max(state.Tick,
// delta.Tick).
//
// GlobalGameState is a typed struct, but delta paths are generic
// dotted strings with no schema of their own, so application round
// trips the state through a generic JSON-shaped tree (map[string]any),
// mutates that tree, and decodes it back into the typed struct. This
// mirrors how the JSON-schema validator already treats decoded wire
// values as generic trees, and keeps path resolution independent of
// GlobalGameState's Go field names changing shape in the future.
func ApplyDelta(state *GlobalGameState, delta StateDelta) error {
	tree, err := stateToTree(state)
	if err != nil {
		return fmt.Errorf("wire: converting state to tree: %w", err)
	}

	for _, change := range delta.Changes {
		segments := strings.Split(change.Path, ".")
		if len(segments) == 0 || segments[0] == "" {
			return fmt.Errorf("wire: empty delta path")
		}
		setPath(tree, segments, deepCopyValue(change.Value))
	}

	next, err := treeToState(tree)
	if err != nil {
		return fmt.Errorf("wire: converting tree back to state: %w", err)
	}

	next.Tick = max64(state.Tick, delta.Tick)
	*state = *next
	return nil
}

// BuildDeltaFromPaths atomically increments state.Tick and returns a
// StateDelta whose changes carry a deep copy of the current value at
// each requested path. Missing paths resolve to a nil value.
func BuildDeltaFromPaths(state *GlobalGameState, paths []string) (StateDelta, error) {
	state.Tick++

	tree, err := stateToTree(state)
	if err != nil {
		return StateDelta{}, fmt.Errorf("wire: converting state to tree: %w", err)
	}

	changes := make([]PathChange, 0, len(paths))
	for _, path := range paths {
		segments := strings.Split(path, ".")
		value := deepCopyValue(getPath(tree, segments))
		changes = append(changes, PathChange{Path: path, Value: value})
	}

	return StateDelta{Tick: state.Tick, Changes: changes}, nil
}

// stateToTree converts a GlobalGameState into a generic JSON-shaped
// tree (nested map[string]any / []any / primitives) via a JSON round
// trip.
func stateToTree(state *GlobalGameState) (map[string]any, error) {
	encoded, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(encoded, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// treeToState converts a generic JSON-shaped tree back into a typed
// GlobalGameState via a JSON round trip.
func treeToState(tree map[string]any) (*GlobalGameState, error) {
	encoded, err := json.Marshal(tree)
	if err != nil {
		return nil, err
	}
	state := New()
	if err := json.Unmarshal(encoded, state); err != nil {
		return nil, err
	}
	return state, nil
}

// setPath writes value at the location addressed by segments,
// creating any missing intermediate map along the way. Must be called
// with a non-empty segments slice.
func setPath(tree map[string]any, segments []string, value any) {
	if len(segments) == 1 {
		tree[segments[0]] = value
		return
	}
	head, rest := segments[0], segments[1:]
	child, ok := tree[head].(map[string]any)
	if !ok {
		child = make(map[string]any)
		tree[head] = child
	}
	setPath(child, rest, value)
}

// getPath reads the value addressed by segments, or nil if any
// intermediate mapping is missing.
func getPath(tree map[string]any, segments []string) any {
	if len(segments) == 0 {
		return nil
	}
	value, ok := tree[segments[0]]
	if !ok {
		return nil
	}
	if len(segments) == 1 {
		return value
	}
	child, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	return getPath(child, segments[1:])
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
