package blackboard

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// The schema registry declares the static shape of the board once, so the
// operation protocol can coerce map payloads into their declared types
// without inspecting Go types at runtime.

type fieldKind int

const (
	// kindValue is a primitive field assigned as-is
	kindValue fieldKind = iota

	// kindRecord is a structured field coerced through its registered schema
	kindRecord

	// kindList is an ordered sequence; elem names the element schema, if any
	kindList
)

type fieldDesc struct {
	kind fieldKind
	elem string // record schema tag for kindRecord and typed kindList elements
}

// rootFields maps every addressable top-level field to its descriptor.
var rootFields = map[string]fieldDesc{
	"project":      {kind: kindRecord, elem: "project"},
	"general_info": {kind: kindRecord, elem: "general_info"},
	"manifests":    {kind: kindList, elem: "manifest"},
	"images":       {kind: kindList, elem: "image"},
	"issues":       {kind: kindList, elem: "issue"},
	"records":      {kind: kindList, elem: "record"},
	"iterations":   {kind: kindValue},
	"phase":        {kind: kindValue},
	"interaction":  {kind: kindRecord, elem: "interaction"},
	"events":       {kind: kindList, elem: "event"},
}

// recordSchema validates and builds one structured type from a map payload.
// required lists the keys a payload must carry; build returns the typed value.
type recordSchema struct {
	required []string
	build    func(map[string]any) (any, error)
}

var recordSchemas = map[string]recordSchema{
	"project": {
		build: buildAs[Project](nil),
	},
	"general_info": {
		build: buildAs[GeneralInfo](nil),
	},
	"interaction": {
		build: buildAs[Interaction]((*Interaction).Validate),
	},
	"manifest": {
		required: []string{"file_path", "namespace", "description"},
		build:    buildAs[Manifest](nil),
	},
	"image": {
		required: []string{
			"tag", "repository", "image_name", "version", "manifest_digest",
			"pullable_digest", "ports", "volumes", "environment_variables", "description",
		},
		build: buildAs[Image](nil),
	},
	"issue": {
		required: []string{"issue", "severity", "problem_description", "possible_manifest_file_path", "observations"},
		build: func(data map[string]any) (any, error) {
			issue, err := decodeAs[Issue](data)
			if err != nil {
				return nil, err
			}
			if err := issue.Validate(); err != nil {
				return nil, err
			}
			if issue.CreatedAt.IsZero() {
				issue.CreatedAt = time.Now().UTC()
			}
			return issue, nil
		},
	},
	"record": {
		required: []string{"agent", "task_name", "task_description"},
		build:    buildAs[Record]((*Record).Validate),
	},
	"event": {
		build: func(data map[string]any) (any, error) {
			ev, err := decodeAs[Event](data)
			if err != nil {
				return nil, err
			}
			if ev.ID == "" {
				ev.ID = uuid.New().String()
			}
			if ev.CreatedAt.IsZero() {
				ev.CreatedAt = time.Now().UTC()
			}
			return ev, nil
		},
	},
}

// decodeAs maps a payload into T, failing on mismatched field types.
func decodeAs[T any](data map[string]any) (T, error) {
	var out T
	raw, err := json.Marshal(data)
	if err != nil {
		return out, fmt.Errorf("failed to encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

// buildAs returns a build function decoding into T and running the optional
// validator.
func buildAs[T any](validate func(*T) error) func(map[string]any) (any, error) {
	return func(data map[string]any) (any, error) {
		out, err := decodeAs[T](data)
		if err != nil {
			return nil, err
		}
		if validate != nil {
			if err := validate(&out); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
}

// coerceRecord validates a map payload against the named record schema and
// returns its normalized serialized form.
func coerceRecord(tag string, data map[string]any) (map[string]any, error) {
	rs, ok := recordSchemas[tag]
	if !ok {
		return data, nil
	}
	for _, key := range rs.required {
		if _, present := data[key]; !present {
			return nil, fmt.Errorf("field %q is required", key)
		}
	}
	v, err := rs.build(data)
	if err != nil {
		return nil, err
	}
	return toMap(v)
}

// toMap serializes a typed value into its map form.
func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return m, nil
}

// listElemTag returns the element schema tag for a path addressing a typed
// top-level list ("manifests" or "manifests[0]"), or "" when elements are
// untyped.
func listElemTag(segs []segment) string {
	if len(segs) != 1 {
		return ""
	}
	if d, ok := rootFields[segs[0].field]; ok && d.kind == kindList {
		return d.elem
	}
	return ""
}
