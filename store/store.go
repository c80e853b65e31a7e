package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnavailable = errors.New("store unavailable")
	ErrInvalidPath = errors.New("invalid store path")
)

// ServerTimestamp is replaced by the backend clock, in milliseconds, when written.
var ServerTimestamp = map[string]any{".sv": "timestamp"}

type EventKind int

const (
	Value EventKind = iota
	ChildAdded
)

func (k EventKind) String() string {
	switch k {
	case Value:
		return "value"
	case ChildAdded:
		return "child_added"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func ParseKind(s string) (EventKind, error) {
	switch s {
	case "value":
		return Value, nil
	case "child_added":
		return ChildAdded, nil
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// Store is a JSON-tree realtime database with subscribe/push semantics.
//
// Value subscribers receive the current value right away and again after
// every change. ChildAdded subscribers receive each existing child in key
// order, then every child added later. Callbacks for one store are delivered
// in write order and may call back into the store.
type Store interface {
	Get(ctx context.Context, path string) (Snapshot, error)
	// Put overwrites the value at path; a nil value removes it.
	Put(ctx context.Context, path string, value any) error
	// Update merge-assigns fields below path. Field names may be nested paths.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Push stores value under a new, time-ordered child key and returns the key.
	Push(ctx context.Context, path string, value any) (string, error)
	Remove(ctx context.Context, path string) error
	Subscribe(ctx context.Context, path string, kind EventKind, fn func(Snapshot)) (func(), error)
	// OnDisconnect registers a write the backend performs when this client
	// disconnects.
	OnDisconnect(ctx context.Context, path string, value any) error
}

// Snapshot is an immutable view of the value at a path.
type Snapshot struct {
	key string
	raw json.RawMessage
}

func NewSnapshot(key string, raw []byte) Snapshot {
	return Snapshot{key: key, raw: raw}
}

func (s Snapshot) Key() string { return s.key }

func (s Snapshot) Exists() bool {
	trimmed := strings.TrimSpace(string(s.raw))
	return trimmed != "" && trimmed != "null"
}

// Decode unmarshals the value into v. A missing value leaves v untouched.
func (s Snapshot) Decode(v any) error {
	if !s.Exists() {
		return nil
	}
	return json.Unmarshal(s.raw, v)
}

func (s Snapshot) Raw() json.RawMessage { return s.raw }

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

func splitPath(path string) ([]string, error) {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		if strings.ContainsAny(seg, ".#$[]") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
		out = append(out, seg)
	}
	return out, nil
}

func lastSegment(segs []string) string {
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}
