// Package diff computes, applies and reverts structural differences between
// generic JSON document trees (map[string]any / []any / scalars). It is pure
// and carries no business rules: an empty operation list is the only signal
// it gives about two documents being equal.
package diff

import (
	"encoding/json"
	"reflect"
	"sort"

	"github.com/pkg/errors"
)

type Kind string

const (
	// KindNew marks a key or array element present only in the candidate.
	KindNew Kind = "N"
	// KindDeleted marks a key or array element present only in the base.
	KindDeleted Kind = "D"
	// KindEdited marks a leaf whose value changed.
	KindEdited Kind = "E"
	// KindArray wraps a nested operation on one array element.
	KindArray Kind = "A"
)

// Operation is one addressable difference between two documents. Path
// segments are strings for object keys and ints for array indices. For
// KindArray, Index locates the element and Item describes what happened to
// it; Item carries no path of its own.
type Operation struct {
	Kind  Kind       `json:"kind"`
	Path  []any      `json:"path,omitempty"`
	Lhs   any        `json:"lhs"`
	Rhs   any        `json:"rhs"`
	Index int        `json:"index,omitempty"`
	Item  *Operation `json:"item,omitempty"`
}

func (o *Operation) UnmarshalJSON(b []byte) error {
	type alias Operation
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	a.Path = normalizePath(a.Path)
	*o = Operation(a)
	return nil
}

// normalizePath converts numeric path segments decoded as float64 back to int.
func normalizePath(path []any) []any {
	for i, seg := range path {
		if f, ok := seg.(float64); ok {
			path[i] = int(f)
		}
	}
	return path
}

// IgnoreFunc decides whether the given key under path is excluded from
// comparison. Excluded keys never appear in a diff.
type IgnoreFunc func(path []any, key string) bool

type config struct {
	ignore IgnoreFunc
}

type Option func(*config)

func WithIgnore(fn IgnoreFunc) Option {
	return func(c *config) { c.ignore = fn }
}

// Compute walks base and candidate depth-first over their shared key space
// and returns the ordered operations transforming base into candidate.
// Object fields are compared by key (sorted, so emission order is stable),
// arrays by index. Equal documents yield an empty slice.
func Compute(base, candidate any, opts ...Option) []Operation {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	var out []Operation
	walk(base, candidate, nil, &cfg, &out)
	return out
}

func walk(base, candidate any, path []any, cfg *config, out *[]Operation) {
	baseMap, baseIsMap := base.(map[string]any)
	candMap, candIsMap := candidate.(map[string]any)
	if baseIsMap && candIsMap {
		for _, key := range unionKeys(baseMap, candMap) {
			if cfg.ignore != nil && cfg.ignore(path, key) {
				continue
			}
			childPath := appendPath(path, key)
			lhs, inBase := baseMap[key]
			rhs, inCand := candMap[key]
			switch {
			case inBase && inCand:
				walk(lhs, rhs, childPath, cfg, out)
			case inBase:
				*out = append(*out, Operation{Kind: KindDeleted, Path: childPath, Lhs: lhs})
			default:
				*out = append(*out, Operation{Kind: KindNew, Path: childPath, Rhs: rhs})
			}
		}
		return
	}

	baseArr, baseIsArr := base.([]any)
	candArr, candIsArr := candidate.([]any)
	if baseIsArr && candIsArr {
		shared := len(baseArr)
		if len(candArr) < shared {
			shared = len(candArr)
		}
		// Length changes first, highest index first, so splices during apply
		// and revert never shift an index another operation still needs.
		longest := len(baseArr)
		if len(candArr) > longest {
			longest = len(candArr)
		}
		for i := longest - 1; i >= shared; i-- {
			if i < len(candArr) {
				*out = append(*out, Operation{
					Kind: KindArray, Path: path, Index: i,
					Item: &Operation{Kind: KindNew, Rhs: candArr[i]},
				})
			} else {
				*out = append(*out, Operation{
					Kind: KindArray, Path: path, Index: i,
					Item: &Operation{Kind: KindDeleted, Lhs: baseArr[i]},
				})
			}
		}
		for i := 0; i < shared; i++ {
			walk(baseArr[i], candArr[i], appendPath(path, i), cfg, out)
		}
		return
	}

	if !Equal(base, candidate) {
		*out = append(*out, Operation{Kind: KindEdited, Path: path, Lhs: base, Rhs: candidate})
	}
}

func unionKeys(a, b map[string]any) []string {
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func appendPath(path []any, seg any) []any {
	out := make([]any, len(path)+1)
	copy(out, path)
	out[len(path)] = seg
	return out
}

// Apply clones base and replays ops in emission order, returning the
// resulting document. Applying Compute(a, b) to a yields a document equal
// to b.
func Apply(base any, ops []Operation) (any, error) {
	doc := Clone(base)
	for i := range ops {
		var err error
		doc, err = applyOp(doc, &ops[i])
		if err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// Revert clones mutated and applies the inverse of every op, in the same
// emission order. Revert(Apply(a, ops), ops) yields a document equal to a.
func Revert(mutated any, ops []Operation) (any, error) {
	doc := Clone(mutated)
	for i := range ops {
		var err error
		doc, err = revertOp(doc, &ops[i])
		if err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func applyOp(doc any, op *Operation) (any, error) {
	switch op.Kind {
	case KindNew, KindEdited:
		return setAt(doc, op.Path, Clone(op.Rhs))
	case KindDeleted:
		return deleteAt(doc, op.Path)
	case KindArray:
		if op.Item == nil {
			return nil, errors.New("diff: array operation without item")
		}
		switch op.Item.Kind {
		case KindNew, KindEdited:
			return setAt(doc, appendPath(op.Path, op.Index), Clone(op.Item.Rhs))
		case KindDeleted:
			return spliceRemove(doc, op.Path, op.Index)
		}
		return nil, errors.Errorf("diff: unsupported nested kind %q", op.Item.Kind)
	}
	return nil, errors.Errorf("diff: unsupported kind %q", op.Kind)
}

func revertOp(doc any, op *Operation) (any, error) {
	switch op.Kind {
	case KindNew:
		return deleteAt(doc, op.Path)
	case KindDeleted, KindEdited:
		return setAt(doc, op.Path, Clone(op.Lhs))
	case KindArray:
		if op.Item == nil {
			return nil, errors.New("diff: array operation without item")
		}
		switch op.Item.Kind {
		case KindNew:
			return spliceRemove(doc, op.Path, op.Index)
		case KindDeleted, KindEdited:
			return setAt(doc, appendPath(op.Path, op.Index), Clone(op.Item.Lhs))
		}
		return nil, errors.Errorf("diff: unsupported nested kind %q", op.Item.Kind)
	}
	return nil, errors.Errorf("diff: unsupported kind %q", op.Kind)
}

// setAt writes val at path, growing arrays as needed for tail indices.
func setAt(doc any, path []any, val any) (any, error) {
	if len(path) == 0 {
		return val, nil
	}
	container, err := descend(doc, path[0])
	if err != nil {
		return nil, err
	}
	switch seg := path[0].(type) {
	case string:
		m := container.(map[string]any)
		if len(path) == 1 {
			m[seg] = val
		} else {
			child, err := setAt(m[seg], path[1:], val)
			if err != nil {
				return nil, err
			}
			m[seg] = child
		}
		return m, nil
	case int:
		arr := container.([]any)
		for len(arr) <= seg {
			arr = append(arr, nil)
		}
		if len(path) == 1 {
			arr[seg] = val
		} else {
			child, err := setAt(arr[seg], path[1:], val)
			if err != nil {
				return nil, err
			}
			arr[seg] = child
		}
		return arr, nil
	}
	return nil, errors.Errorf("diff: invalid path segment %v", path[0])
}

func deleteAt(doc any, path []any) (any, error) {
	if len(path) == 0 {
		return nil, errors.New("diff: cannot delete document root")
	}
	container, err := descend(doc, path[0])
	if err != nil {
		return nil, err
	}
	switch seg := path[0].(type) {
	case string:
		m := container.(map[string]any)
		if len(path) == 1 {
			delete(m, seg)
		} else {
			child, err := deleteAt(m[seg], path[1:])
			if err != nil {
				return nil, err
			}
			m[seg] = child
		}
		return m, nil
	case int:
		arr := container.([]any)
		if seg >= len(arr) {
			return arr, nil
		}
		if len(path) == 1 {
			return append(arr[:seg], arr[seg+1:]...), nil
		}
		child, err := deleteAt(arr[seg], path[1:])
		if err != nil {
			return nil, err
		}
		arr[seg] = child
		return arr, nil
	}
	return nil, errors.Errorf("diff: invalid path segment %v", path[0])
}

func spliceRemove(doc any, path []any, index int) (any, error) {
	return deleteAt(doc, appendPath(path, index))
}

// descend checks that doc can be indexed by seg, allocating an empty
// container when doc is nil.
func descend(doc any, seg any) (any, error) {
	switch seg.(type) {
	case string:
		if doc == nil {
			return map[string]any{}, nil
		}
		m, ok := doc.(map[string]any)
		if !ok {
			return nil, errors.Errorf("diff: path expects object, document holds %T", doc)
		}
		return m, nil
	case int:
		if doc == nil {
			return []any{}, nil
		}
		arr, ok := doc.([]any)
		if !ok {
			return nil, errors.Errorf("diff: path expects array, document holds %T", doc)
		}
		return arr, nil
	}
	return nil, errors.Errorf("diff: invalid path segment %v", seg)
}

// Clone deep-copies a generic document tree. Scalars are returned as-is.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Clone(val)
		}
		return out
	default:
		return v
	}
}

// Normalize round-trips v through JSON so typed values become generic
// document trees comparable by Compute.
func Normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "diff: normalize")
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, errors.Wrap(err, "diff: normalize")
	}
	return out, nil
}

// Equal reports deep equality of two document trees.
func Equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
