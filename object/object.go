package object

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/wippyai/objbridge/errors"
)

// Tuple is an immutable sequence.
type Tuple struct {
	Items []any
}

// NewTuple creates a tuple holding items.
func NewTuple(items ...any) *Tuple {
	return &Tuple{Items: items}
}

// Len returns the number of items.
func (t *Tuple) Len() int { return len(t.Items) }

func (t *Tuple) String() string {
	if len(t.Items) == 1 {
		return "(" + Repr(t.Items[0]) + ",)"
	}
	return "(" + joinRepr(t.Items) + ")"
}

// List is a mutable sequence.
type List struct {
	Items []any
}

// NewList creates a list holding items.
func NewList(items ...any) *List {
	return &List{Items: items}
}

// Len returns the number of items.
func (l *List) Len() int { return len(l.Items) }

// Append adds v to the end of the list.
func (l *List) Append(v any) { l.Items = append(l.Items, v) }

func (l *List) String() string {
	return "[" + joinRepr(l.Items) + "]"
}

// Item is a dict entry.
type Item struct {
	Key   any
	Value any
}

// Dict is an insertion-ordered mapping with hashable keys.
type Dict struct {
	index map[any]int
	items []Item
}

// NewDict creates an empty dict.
func NewDict() *Dict {
	return &Dict{index: make(map[any]int)}
}

// DictOf builds a dict from alternating keys and values.
func DictOf(kv ...any) (*Dict, error) {
	if len(kv)%2 != 0 {
		return nil, errors.InvalidInput(errors.PhaseStore, "odd number of dict arguments")
	}
	d := NewDict()
	for i := 0; i < len(kv); i += 2 {
		if err := d.Set(kv[i], kv[i+1]); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Set inserts or replaces the value for key.
func (d *Dict) Set(key, value any) error {
	key = Normalize(key)
	if !Hashable(key) {
		return errors.New(errors.PhaseStore, errors.KindUnsupported).
			GoType(fmt.Sprintf("%T", key)).
			Detail("unhashable dict key").
			Build()
	}
	if i, ok := d.index[key]; ok {
		d.items[i].Value = value
		return nil
	}
	d.index[key] = len(d.items)
	d.items = append(d.items, Item{Key: key, Value: value})
	return nil
}

// Get returns the value for key.
func (d *Dict) Get(key any) (any, bool) {
	key = Normalize(key)
	if !Hashable(key) {
		return nil, false
	}
	i, ok := d.index[key]
	if !ok {
		return nil, false
	}
	return d.items[i].Value, true
}

// Delete removes key and reports whether it was present.
func (d *Dict) Delete(key any) bool {
	key = Normalize(key)
	if !Hashable(key) {
		return false
	}
	i, ok := d.index[key]
	if !ok {
		return false
	}
	delete(d.index, key)
	d.items = append(d.items[:i], d.items[i+1:]...)
	for j := i; j < len(d.items); j++ {
		d.index[d.items[j].Key] = j
	}
	return true
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	if d == nil {
		return 0
	}
	return len(d.items)
}

// Items returns the entries in insertion order.
func (d *Dict) Items() []Item {
	out := make([]Item, len(d.items))
	copy(out, d.items)
	return out
}

func (d *Dict) String() string {
	parts := make([]string, len(d.items))
	for i, it := range d.items {
		parts[i] = Repr(it.Key) + ": " + Repr(it.Value)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Normalize maps Go numeric kinds onto the canonical int64 and float64
// representations so equal numbers share one identity.
func Normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}

// Hashable reports whether v can be used as a registry or dict key.
// Lists and dicts are mutable and never hashable; other Go values are
// hashable when their dynamic type is comparable.
func Hashable(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case *List, *Dict:
		return false
	case float64:
		return !math.IsNaN(x)
	}
	return reflect.TypeOf(v).Comparable()
}

// Repr formats a value the way the foreign runtime prints it.
func Repr(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case string:
		return "'" + strings.ReplaceAll(x, "'", `\'`) + "'"
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

func joinRepr(items []any) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = Repr(it)
	}
	return strings.Join(parts, ", ")
}
