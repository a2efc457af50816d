package evidence

import (
	"fmt"
	"reflect"
	"strings"
)

// Kind classifies a normalized value.
type Kind int

const (
	// KindScalar is a string, bool, number, or nil.
	KindScalar Kind = iota
	// KindSequence is a plain []any.
	KindSequence
	// KindMapping is a plain map[string]any.
	KindMapping
	// KindOpaque is anything else, carried as its stringified form.
	KindOpaque
)

// Normalize converts duck-typed values from upstream services (sometimes a
// map, sometimes a struct, sometimes a bare string) into plain scalars,
// []any sequences, and map[string]any mappings. Anything that cannot be
// represented structurally is stringified.
func Normalize(v any) any {
	switch val := v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	case fmt.Stringer:
		return val.String()
	case error:
		return val.Error()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Normalize(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		for _, key := range rv.MapKeys() {
			out[fmt.Sprint(key.Interface())] = Normalize(rv.MapIndex(key).Interface())
		}
		return out
	case reflect.Struct:
		out := make(map[string]any)
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			field := rt.Field(i)
			if !field.IsExported() {
				continue
			}
			name := field.Name
			if tag, ok := field.Tag.Lookup("json"); ok && tag != "" && tag != "-" {
				if comma := strings.IndexByte(tag, ','); comma >= 0 {
					tag = tag[:comma]
				}
				if tag != "" {
					name = tag
				}
			}
			out[name] = Normalize(rv.Field(i).Interface())
		}
		return out
	}

	// Opaque: channels, funcs, and friends.
	return fmt.Sprintf("%v", v)
}

// KindOf reports the tagged-union kind of an already-normalized value.
func KindOf(v any) Kind {
	switch v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return KindScalar
	case []any:
		return KindSequence
	case map[string]any:
		return KindMapping
	default:
		return KindOpaque
	}
}
