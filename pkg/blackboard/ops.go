package blackboard

import (
	"fmt"
	"strings"
)

// Action identifies one operation kind in a batch.
type Action string

const (
	// ActionGet retrieves data from a path
	ActionGet Action = "get"

	// ActionSet overwrites data at an existing path
	ActionSet Action = "set"

	// ActionAdd appends an item to a list
	ActionAdd Action = "add"

	// ActionDelete removes a list item
	ActionDelete Action = "delete"
)

// Operation is one entry in a batch applied to the board.
type Operation struct {
	Action Action `json:"action"`
	Path   string `json:"path"`
	Data   any    `json:"data,omitempty"`
}

// OpResult reports the outcome of one operation. Error strings are wire text
// handed back to the task executor, so their wording is part of the contract.
type OpResult struct {
	Operation int    `json:"operation"`
	Action    Action `json:"action"`
	Path      string `json:"path"`
	Success   bool   `json:"success"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Apply executes an ordered batch of operations against the board.
//
// Operations apply independently: each one reports its own success or
// failure, and a failed operation neither aborts the rest of the batch nor
// rolls back the ones already applied.
func (b *Board) Apply(ops []Operation) []OpResult {
	results := make([]OpResult, 0, len(ops))
	for i, op := range ops {
		res := OpResult{Operation: i, Action: op.Action, Path: op.Path}

		if op.Action == "" {
			res.Error = "Missing required fields 'action' or 'path'"
			results = append(results, res)
			continue
		}

		var (
			result any
			errMsg string
		)
		switch op.Action {
		case ActionGet:
			result, errMsg = b.opGet(op.Path)
		case ActionSet:
			if op.Data == nil {
				errMsg = "Data is required for set operation"
			} else {
				result, errMsg = b.opSet(op.Path, op.Data)
			}
		case ActionAdd:
			if op.Data == nil {
				errMsg = "Data is required for add operation"
			} else {
				result, errMsg = b.opAdd(op.Path, op.Data)
			}
		case ActionDelete:
			result, errMsg = b.opDelete(op.Path)
		default:
			errMsg = fmt.Sprintf("Invalid action: %s", op.Action)
		}

		if errMsg != "" {
			res.Error = errMsg
		} else {
			res.Success = true
			res.Result = result
		}
		results = append(results, res)
	}
	return results
}

// opGet resolves a path over the serialized state. The empty path returns the
// whole board under the "blackboard" key.
func (b *Board) opGet(path string) (any, string) {
	b.mu.RLock()
	st := b.stateLocked()
	b.mu.RUnlock()

	m, err := stateToMap(st)
	if err != nil {
		return nil, fmt.Sprintf("Failed to get field at path '%s': %v", path, err)
	}
	if path == "" {
		return map[string]any{"blackboard": m}, ""
	}

	segs, err := parsePath(path)
	if err != nil {
		return nil, fmt.Sprintf("Failed to get field at path '%s': %v", path, err)
	}
	if len(segs) == 1 && !segs[0].hasIndex {
		if _, ok := rootFields[segs[0].field]; !ok {
			return nil, fmt.Sprintf("Field '%s' not found in Blackboard.", path)
		}
	}

	value, err := resolveSegments(m, segs)
	if err != nil {
		return nil, fmt.Sprintf("Field at path '%s' not found: %v", path, err)
	}
	return map[string]any{path: value}, ""
}

// opSet overwrites an existing field or list element. Map payloads aimed at a
// structured field are coerced through the schema registry; everything else
// is assigned raw and checked when the state is written back.
func (b *Board) opSet(path string, data any) (any, string) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, fmt.Sprintf("Failed to set field at path '%s': %v", path, err)
	}
	if len(segs) == 0 {
		return nil, fmt.Sprintf("Failed to set field at path '%s': path is required", path)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	m, err := stateToMap(b.stateLocked())
	if err != nil {
		return nil, fmt.Sprintf("Failed to set field at path '%s': %v", path, err)
	}

	// Top-level field: depth-1 case of the same operation.
	if len(segs) == 1 && !segs[0].hasIndex {
		field := segs[0].field
		desc, ok := rootFields[field]
		if !ok {
			return nil, fmt.Sprintf("Failed to set field at path '%s': no such field: %s", path, field)
		}
		value := data
		if desc.kind == kindRecord {
			if payload, isMap := data.(map[string]any); isMap {
				coerced, cerr := coerceRecord(desc.elem, payload)
				if cerr != nil {
					return nil, fmt.Sprintf("Failed to validate data for field '%s': %v", path, cerr)
				}
				value = coerced
			}
		}
		m[field] = value
		if err := b.writeBackLocked(m); err != nil {
			return nil, fmt.Sprintf("Failed to set field at path '%s': %v", path, err)
		}
		return map[string]any{path: value}, ""
	}

	owner, last, err := ownerOf(m, segs)
	if err != nil {
		return nil, fmt.Sprintf("Failed to set field at path '%s': %v", path, err)
	}

	if last.hasIndex {
		list, ok := owner[last.field].([]any)
		if !ok {
			return nil, fmt.Sprintf("Failed to set list item at index %d: field %q is not a list", last.index, last.field)
		}
		if last.index < 0 || last.index >= len(list) {
			return nil, fmt.Sprintf("Failed to set list item at index %d: index out of range", last.index)
		}
		value := data
		if tag := listElemTag(segs); tag != "" {
			if payload, isMap := data.(map[string]any); isMap {
				coerced, cerr := coerceRecord(tag, payload)
				if cerr != nil {
					return nil, fmt.Sprintf("Failed to set list item at index %d: %v", last.index, cerr)
				}
				value = coerced
			}
		}
		list[last.index] = value
	} else {
		if _, ok := owner[last.field]; !ok {
			return nil, fmt.Sprintf("Failed to set field '%s': field does not exist", last.field)
		}
		owner[last.field] = data
	}

	if err := b.writeBackLocked(m); err != nil {
		return nil, fmt.Sprintf("Failed to set field at path '%s': %v", path, err)
	}
	return map[string]any{"success": true, "path": path}, ""
}

// opAdd appends to the list the path resolves to and returns the new index
// plus the stored item. Top-level lists echo the item under the singular form
// of the list name; nested lists use "added_item".
func (b *Board) opAdd(path string, data any) (any, string) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, fmt.Sprintf("Failed to add item to list at path '%s': %v", path, err)
	}
	if len(segs) == 0 {
		return nil, fmt.Sprintf("Failed to add item to list at path '%s': path is required", path)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	m, err := stateToMap(b.stateLocked())
	if err != nil {
		return nil, fmt.Sprintf("Failed to add item to list at path '%s': %v", path, err)
	}

	target, err := resolveSegments(m, segs)
	if err != nil {
		return nil, fmt.Sprintf("Failed to add item to list at path '%s': %v", path, err)
	}
	if _, ok := target.([]any); !ok {
		return nil, fmt.Sprintf("Path '%s' does not point to a list.", path)
	}

	last := segs[len(segs)-1]
	if last.hasIndex {
		return nil, fmt.Sprintf("Invalid path for add operation: '%s'. Path must point to a list attribute.", path)
	}

	owner, last, err := ownerOf(m, segs)
	if err != nil {
		return nil, fmt.Sprintf("Failed to add item to list at path '%s': %v", path, err)
	}

	value := data
	if tag := listElemTag(segs); tag != "" {
		if payload, isMap := data.(map[string]any); isMap {
			coerced, cerr := coerceRecord(tag, payload)
			if cerr != nil {
				return nil, fmt.Sprintf("Failed to add item to list at path '%s': %v", path, cerr)
			}
			value = coerced
		}
	}

	list := owner[last.field].([]any)
	owner[last.field] = append(list, value)

	if err := b.writeBackLocked(m); err != nil {
		return nil, fmt.Sprintf("Failed to add item to list at path '%s': %v", path, err)
	}

	key := "added_item"
	if len(segs) == 1 {
		key = strings.TrimRight(last.field, "s")
	}
	return map[string]any{"index": len(list), key: value}, ""
}

// opDelete removes a list element. Only list items can be deleted; the path
// must end in an index.
func (b *Board) opDelete(path string) (any, string) {
	if !strings.Contains(path, "[") || !strings.HasSuffix(path, "]") {
		return nil, "Can only delete list items, not attributes"
	}

	segs, err := parsePath(path)
	if err != nil {
		return nil, fmt.Sprintf("Failed to delete field at path '%s': %v", path, err)
	}
	last := segs[len(segs)-1]
	if !last.hasIndex {
		return nil, fmt.Sprintf("Path '%s' does not point to a list item", path)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	m, err := stateToMap(b.stateLocked())
	if err != nil {
		return nil, fmt.Sprintf("Failed to delete field at path '%s': %v", path, err)
	}

	owner, last, err := ownerOf(m, segs)
	if err != nil {
		return nil, fmt.Sprintf("Failed to delete field at path '%s': %v", path, err)
	}
	list, ok := owner[last.field].([]any)
	if !ok {
		return nil, fmt.Sprintf("Failed to delete field at path '%s': field %q is not a list", path, last.field)
	}
	if last.index < 0 || last.index >= len(list) {
		return nil, fmt.Sprintf("Index %d out of range for list at path '%s'", last.index, path)
	}

	removed := list[last.index]
	owner[last.field] = append(list[:last.index], list[last.index+1:]...)

	if err := b.writeBackLocked(m); err != nil {
		return nil, fmt.Sprintf("Failed to delete field at path '%s': %v", path, err)
	}
	return map[string]any{"deleted_item": removed}, ""
}

// writeBackLocked coerces the mutated state map into typed form and installs
// it. A coercion failure leaves the board untouched. Caller holds b.mu.
func (b *Board) writeBackLocked(m map[string]any) error {
	st, err := mapToState(m)
	if err != nil {
		return err
	}
	b.setStateLocked(st)
	return nil
}
