package store

import "reflect"

// CopyMap returns a deep copy of m. Maps, slices and []any nested in m are
// copied; other values are shared. A nil map stays nil.
func CopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CopyValue(v)
	}
	return out
}

// CopyValue returns a deep copy of v for JSON-like values and typed maps
// and slices.
func CopyValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return CopyMap(t)
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CopyValue(e)
		}
		return out
	case string, bool, float64, int, int64:
		return v
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		reflect.Copy(out, rv)
		if nested(rv.Type().Elem()) {
			for i := 0; i < rv.Len(); i++ {
				copyInto(out.Index(i), rv.Index(i))
			}
		}
		return out.Interface()
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		deep := nested(rv.Type().Elem())
		iter := rv.MapRange()
		for iter.Next() {
			val := iter.Value()
			if deep {
				c := reflect.New(val.Type()).Elem()
				copyInto(c, val)
				val = c
			}
			out.SetMapIndex(iter.Key(), val)
		}
		return out.Interface()
	}
	return v
}

// nested reports whether values of t may share memory after a shallow copy.
func nested(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Map, reflect.Slice, reflect.Interface:
		return true
	}
	return false
}

func copyInto(dst, src reflect.Value) {
	if src.Kind() == reflect.Interface && src.IsNil() {
		return
	}
	c := CopyValue(src.Interface())
	if c == nil {
		return
	}
	dst.Set(reflect.ValueOf(c))
}
