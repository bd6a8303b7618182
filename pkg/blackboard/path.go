package blackboard

import (
	"fmt"
	"strconv"
	"strings"
)

// segment is one step of a parsed path: a field name, optionally followed by
// a zero-based list index ("manifests[0]" → field "manifests", index 0).
type segment struct {
	field    string
	index    int
	hasIndex bool
}

// parsePath splits a dotted path into segments. A segment is a field name
// optionally suffixed with "[N]"; a bare "[N]" indexes the current value.
// The empty path parses to no segments (the whole tree).
func parsePath(path string) ([]segment, error) {
	if path == "" {
		return nil, nil
	}
	parts := strings.Split(path, ".")
	segs := make([]segment, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("empty segment in path %q", path)
		}
		open := strings.IndexByte(part, '[')
		if open < 0 {
			segs = append(segs, segment{field: part})
			continue
		}
		if !strings.HasSuffix(part, "]") {
			return nil, fmt.Errorf("malformed index in segment %q", part)
		}
		idxStr := part[open+1 : len(part)-1]
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			return nil, fmt.Errorf("invalid index %q in segment %q", idxStr, part)
		}
		segs = append(segs, segment{field: part[:open], index: idx, hasIndex: true})
	}
	return segs, nil
}

// resolveSegments walks the serialized state tree left to right. Every step
// must exist; failures name the first unresolved segment.
func resolveSegments(root any, segs []segment) (any, error) {
	current := root
	for _, seg := range segs {
		if seg.field != "" {
			m, ok := current.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("cannot access field %q of a non-object value", seg.field)
			}
			v, ok := m[seg.field]
			if !ok {
				return nil, fmt.Errorf("field %q does not exist", seg.field)
			}
			current = v
		}
		if seg.hasIndex {
			list, ok := current.([]any)
			if !ok {
				return nil, fmt.Errorf("field %q is not a list", seg.field)
			}
			if seg.index < 0 || seg.index >= len(list) {
				return nil, fmt.Errorf("index %d out of range for %q", seg.index, seg.field)
			}
			current = list[seg.index]
		}
	}
	return current, nil
}

// ownerOf resolves everything up to the final segment and returns the object
// that owns it. Mutations go through the owner so list replacements are
// written back into the tree.
func ownerOf(root map[string]any, segs []segment) (map[string]any, segment, error) {
	if len(segs) == 0 {
		return nil, segment{}, fmt.Errorf("path is required")
	}
	last := segs[len(segs)-1]
	if last.field == "" {
		return nil, segment{}, fmt.Errorf("path must end in a named field")
	}
	parent := any(root)
	if len(segs) > 1 {
		v, err := resolveSegments(root, segs[:len(segs)-1])
		if err != nil {
			return nil, segment{}, err
		}
		parent = v
	}
	m, ok := parent.(map[string]any)
	if !ok {
		return nil, segment{}, fmt.Errorf("parent of %q is not an object", last.field)
	}
	return m, last, nil
}
