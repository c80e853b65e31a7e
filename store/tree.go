package store

import (
	"encoding/json"
	"sort"
)

// normalize converts an arbitrary Go value to the JSON tree form: maps,
// slices, strings, float64s, bools. Server timestamps are resolved to now.
func normalize(v any, nowMillis int64) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return prune(resolveTimestamps(tree, nowMillis)), nil
}

func resolveTimestamps(v any, nowMillis int64) any {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 1 && t[".sv"] == "timestamp" {
			return float64(nowMillis)
		}
		for k, child := range t {
			t[k] = resolveTimestamps(child, nowMillis)
		}
	case []any:
		for i, child := range t {
			t[i] = resolveTimestamps(child, nowMillis)
		}
	}
	return v
}

// prune drops nulls and empty objects, which the tree never stores.
func prune(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		child = prune(child)
		if child == nil {
			delete(m, k)
			continue
		}
		m[k] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func lookup(root map[string]any, segs []string) any {
	var cur any = root
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[seg]
	}
	if m, ok := cur.(map[string]any); ok && len(m) == 0 {
		return nil
	}
	return cur
}

// assign writes v at segs, creating parents, and removes emptied parents
// when v is nil.
func assign(root map[string]any, segs []string, v any) {
	if len(segs) == 0 {
		return
	}
	parents := make([]map[string]any, 0, len(segs))
	cur := root
	for _, seg := range segs[:len(segs)-1] {
		parents = append(parents, cur)
		next, ok := cur[seg].(map[string]any)
		if !ok {
			if v == nil {
				return
			}
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
	last := segs[len(segs)-1]
	if v == nil {
		delete(cur, last)
	} else {
		cur[last] = v
	}
	if v != nil {
		return
	}
	for i := len(parents) - 1; i >= 0; i-- {
		if len(cur) > 0 {
			return
		}
		delete(parents[i], segs[i])
		cur = parents[i]
	}
}

func encode(v any) json.RawMessage {
	if v == nil {
		return json.RawMessage("null")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return raw
}

func childKeys(v any) []string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// related reports whether a write at b can change the value at a.
func related(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
