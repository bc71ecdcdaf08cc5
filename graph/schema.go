package graph

import (
	"fmt"
	"reflect"
)

// Reducer defines how a state value should be updated.
// It takes the current value and the new value, and returns the merged value.
// Reducers must not modify either argument and must be associative.
type Reducer func(current, new any) (any, error)

// MapSchema assigns reducers to state fields. Fields without a reducer are
// overwrite fields.
type MapSchema struct {
	Reducers map[string]Reducer
}

// NewMapSchema creates a new MapSchema.
func NewMapSchema() *MapSchema {
	return &MapSchema{
		Reducers: make(map[string]Reducer),
	}
}

// RegisterReducer adds a reducer for a specific key.
func (s *MapSchema) RegisterReducer(key string, reducer Reducer) *MapSchema {
	s.Reducers[key] = reducer
	return s
}

func (s *MapSchema) reducer(key string) (Reducer, bool) {
	if s == nil {
		return nil, false
	}
	r, ok := s.Reducers[key]
	return r, ok
}

// Update merges the new map into a copy of the current map using registered reducers.
func (s *MapSchema) Update(current, update State) (State, error) {
	result := copyState(current)
	for _, k := range sortedKeys(update) {
		v := update[k]
		if reducer, ok := s.reducer(k); ok {
			merged, err := reducer(result[k], v)
			if err != nil {
				return nil, fmt.Errorf("failed to reduce key %s: %w", k, err)
			}
			result[k] = merged
			continue
		}
		result[k] = v
	}
	return result, nil
}

// OverwriteReducer replaces the old value with the new one.
func OverwriteReducer(current, new any) (any, error) {
	return new, nil
}

// AppendReducer appends the new value to the current slice.
// It supports appending a slice to a slice, or a single element to a slice.
// Element types that do not match fall back to []any.
func AppendReducer(current, new any) (any, error) {
	if current != nil && reflect.ValueOf(current).Kind() != reflect.Slice {
		return nil, fmt.Errorf("current value is not a slice: %T", current)
	}
	if new == nil {
		return buildSlice(sliceType(current, new), listOf(current)), nil
	}
	items := append(listOf(current), listOf(new)...)
	return buildSlice(sliceType(current, new), items), nil
}

// UnionReducer merges two lists keeping the first occurrence of every element.
func UnionReducer(current, new any) (any, error) {
	if current != nil && reflect.ValueOf(current).Kind() != reflect.Slice {
		return nil, fmt.Errorf("current value is not a slice: %T", current)
	}
	var items []any
	for _, v := range append(listOf(current), listOf(new)...) {
		seen := false
		for _, existing := range items {
			if reflect.DeepEqual(existing, v) {
				seen = true
				break
			}
		}
		if !seen {
			items = append(items, v)
		}
	}
	return buildSlice(sliceType(current, new), items), nil
}

// SumReducer adds numbers. Integer operands stay integers, anything else
// becomes float64 (values loaded from a checkpoint are float64).
func SumReducer(current, new any) (any, error) {
	if current == nil {
		return new, nil
	}
	if new == nil {
		return current, nil
	}
	a, ok := number(current)
	if !ok {
		return nil, fmt.Errorf("current value is not a number: %T", current)
	}
	b, ok := number(new)
	if !ok {
		return nil, fmt.Errorf("new value is not a number: %T", new)
	}
	if a.isInt && b.isInt {
		x, xIsInt := current.(int)
		y, yIsInt := new.(int)
		if xIsInt && yIsInt {
			return x + y, nil
		}
		return a.i + b.i, nil
	}
	return a.float() + b.float(), nil
}

// numeric holds an integer exactly in i, or a float in f.
type numeric struct {
	i     int64
	f     float64
	isInt bool
}

func (n numeric) float() float64 {
	if n.isInt {
		return float64(n.i)
	}
	return n.f
}

func number(v any) (numeric, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return numeric{i: rv.Int(), isInt: true}, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return numeric{i: int64(rv.Uint()), isInt: true}, true
	case reflect.Float32, reflect.Float64:
		return numeric{f: rv.Float()}, true
	}
	return numeric{}, false
}

// listOf flattens v into a fresh []any: nil is empty, a slice yields its
// elements, anything else is a single element.
func listOf(v any) []any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func sliceType(current, new any) reflect.Type {
	if current != nil {
		return reflect.TypeOf(current)
	}
	if new == nil {
		return reflect.TypeOf([]any(nil))
	}
	t := reflect.TypeOf(new)
	if t.Kind() == reflect.Slice {
		return t
	}
	return reflect.SliceOf(t)
}

// buildSlice returns a new slice of type t holding items, or a []any when an
// item is not assignable to t's element type.
func buildSlice(t reflect.Type, items []any) any {
	elem := t.Elem()
	for _, it := range items {
		if it == nil || !reflect.TypeOf(it).AssignableTo(elem) {
			out := make([]any, len(items))
			copy(out, items)
			return out
		}
	}
	out := reflect.MakeSlice(t, len(items), len(items))
	for i, it := range items {
		out.Index(i).Set(reflect.ValueOf(it))
	}
	return out.Interface()
}
