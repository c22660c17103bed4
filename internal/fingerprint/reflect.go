package fingerprint

import (
	"encoding"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Canonicalizer is implemented by types that know their own canonical form.
// From calls CanonicalValue instead of reflecting over the type.
type Canonicalizer interface {
	CanonicalValue() (Value, error)
}

var (
	valueType         = reflect.TypeOf((*Value)(nil)).Elem()
	canonicalizerType = reflect.TypeOf((*Canonicalizer)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	timeType          = reflect.TypeOf(time.Time{})
	durationType      = reflect.TypeOf(time.Duration(0))
)

// From reduces an arbitrary Go value to a canonical Value.
//
// Reduction rules:
//   - nil, nil pointers and nil interfaces become Null
//   - bools, integers, floats and strings become the matching scalar
//   - []byte and [N]byte become Bytes
//   - other slices and arrays become Sequence; nil slices are empty
//   - maps keyed by strings, integers or encoding.TextMarshaler become Mapping
//   - structs become Mapping over exported fields (see below)
//   - time.Time becomes Text in UTC RFC 3339 with nanoseconds
//   - time.Duration becomes Int nanoseconds
//   - Value passes through, Canonicalizer and encoding.TextMarshaler delegate
//
// Struct fields are named by a `fingerprint:"name"` tag, else a `json` tag
// name, else the Go field name. A "-" name skips the field and "omitempty"
// skips zero values. Untagged embedded structs are flattened, with outer
// fields winning.
//
// Functions, channels, complex numbers, unsafe pointers and reference
// cycles fail with ErrUnsupportedValueKind.
func From(x any) (Value, error) {
	r := reducer{active: make(map[visit]bool)}
	return r.reduce(reflect.ValueOf(x), "")
}

type visit struct {
	ptr uintptr
	typ reflect.Type
}

type reducer struct {
	// active holds the references on the current descent path.
	active map[visit]bool
}

func unsupported(path string, what any) error {
	return fmt.Errorf("%w: %v at %s", ErrUnsupportedValueKind, what, displayPath(path))
}

func (r *reducer) reduce(rv reflect.Value, path string) (Value, error) {
	if !rv.IsValid() {
		return Null{}, nil
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		if rv.IsNil() && rv.Kind() != reflect.Slice && rv.Kind() != reflect.Map {
			return Null{}, nil
		}
	}

	if rv.CanInterface() {
		if v, ok, err := r.delegate(rv, path); ok || err != nil {
			return v, err
		}
	}

	switch rv.Kind() {
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Uint(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float()), nil
	case reflect.String:
		return Text(rv.String()), nil
	case reflect.Interface:
		return r.reduce(rv.Elem(), path)
	case reflect.Pointer:
		return r.enter(rv, path, func() (Value, error) {
			return r.reduce(rv.Elem(), path)
		})
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return Bytes(append([]byte(nil), rv.Bytes()...)), nil
		}
		if rv.Len() == 0 {
			return Sequence{}, nil
		}
		return r.enter(rv, path, func() (Value, error) {
			return r.reduceList(rv, path)
		})
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			for i := range b {
				b[i] = byte(rv.Index(i).Uint())
			}
			return Bytes(b), nil
		}
		return r.reduceList(rv, path)
	case reflect.Map:
		if rv.Len() == 0 {
			return &Mapping{}, nil
		}
		return r.enter(rv, path, func() (Value, error) {
			return r.reduceMap(rv, path)
		})
	case reflect.Struct:
		m := &Mapping{}
		if err := r.reduceStruct(rv, m, path); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, unsupported(path, rv.Type())
	}
}

// delegate handles types that choose their own canonical form.
func (r *reducer) delegate(rv reflect.Value, path string) (Value, bool, error) {
	t := rv.Type()
	if t.Kind() == reflect.Pointer && t.Elem() == timeType {
		// Dereference first so *time.Time matches time.Time.
		return nil, false, nil
	}
	if t.Kind() != reflect.Pointer && t.Kind() != reflect.Interface && !t.Implements(valueType) &&
		!t.Implements(canonicalizerType) && !t.Implements(textMarshalerType) {
		pt := reflect.PointerTo(t)
		if pt.Implements(valueType) || pt.Implements(canonicalizerType) || pt.Implements(textMarshalerType) {
			// The method has a pointer receiver; call it on an addressable copy.
			return r.delegate(addressOf(rv), path)
		}
	}
	switch {
	case t.Implements(valueType):
		return rv.Interface().(Value), true, nil
	case t.Implements(canonicalizerType):
		v, err := rv.Interface().(Canonicalizer).CanonicalValue()
		if err != nil {
			return nil, true, fmt.Errorf("canonicalizing %s at %s: %w", t, displayPath(path), err)
		}
		return v, true, nil
	case t == timeType:
		return Text(rv.Interface().(time.Time).UTC().Format(time.RFC3339Nano)), true, nil
	case t == durationType:
		return Int(rv.Int()), true, nil
	case t.Implements(textMarshalerType):
		b, err := rv.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return nil, true, fmt.Errorf("marshaling %s at %s: %w", t, displayPath(path), err)
		}
		return Text(b), true, nil
	}
	return nil, false, nil
}

func addressOf(rv reflect.Value) reflect.Value {
	if rv.CanAddr() {
		return rv.Addr()
	}
	p := reflect.New(rv.Type())
	p.Elem().Set(rv)
	return p
}

// enter guards reference-typed values against cycles.
func (r *reducer) enter(rv reflect.Value, path string, fn func() (Value, error)) (Value, error) {
	key := visit{ptr: rv.Pointer(), typ: rv.Type()}
	if r.active[key] {
		return nil, unsupported(path, "reference cycle through "+rv.Type().String())
	}
	r.active[key] = true
	defer delete(r.active, key)
	return fn()
}

func (r *reducer) reduceList(rv reflect.Value, path string) (Value, error) {
	seq := make(Sequence, rv.Len())
	for i := range seq {
		v, err := r.reduce(rv.Index(i), indexPath(path, i))
		if err != nil {
			return nil, err
		}
		seq[i] = v
	}
	return seq, nil
}

func (r *reducer) reduceMap(rv reflect.Value, path string) (Value, error) {
	m := &Mapping{}
	iter := rv.MapRange()
	for iter.Next() {
		name, err := mapKeyName(iter.Key(), path)
		if err != nil {
			return nil, err
		}
		if _, dup := m.Get(name); dup {
			return nil, fmt.Errorf("%w: map keys collide on %q at %s", ErrMalformedValue, name, displayPath(path))
		}
		v, err := r.reduce(iter.Value(), fieldPath(path, name))
		if err != nil {
			return nil, err
		}
		m.Set(name, v)
	}
	return m, nil
}

func mapKeyName(k reflect.Value, path string) (string, error) {
	if k.Kind() == reflect.Interface {
		if k.IsNil() {
			return "", unsupported(path, "nil map key")
		}
		k = k.Elem()
	}
	if k.Type().Implements(textMarshalerType) && k.CanInterface() {
		b, err := k.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return "", fmt.Errorf("marshaling map key at %s: %w", displayPath(path), err)
		}
		return string(b), nil
	}
	switch k.Kind() {
	case reflect.String:
		return k.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), nil
	default:
		return "", unsupported(path, "map key of type "+k.Type().String())
	}
}

func (r *reducer) reduceStruct(rv reflect.Value, m *Mapping, path string) error {
	t := rv.Type()
	if opaqueStruct(t) {
		return unsupported(path, t.String()+" has no exported fields")
	}

	// Embedded structs first, so that direct fields replace promoted ones.
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.Anonymous {
			continue
		}
		name, _, skip := fieldName(sf)
		if skip || name != "" {
			continue
		}
		fv := rv.Field(i)
		if fv.Kind() == reflect.Pointer {
			if fv.IsNil() {
				continue
			}
			fv = fv.Elem()
		}
		if fv.Kind() != reflect.Struct || fv.Type() == timeType {
			continue
		}
		if err := r.reduceStruct(fv, m, path); err != nil {
			return err
		}
	}

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, omitEmpty, skip := fieldName(sf)
		if skip {
			continue
		}
		if sf.Anonymous && name == "" && isStructLike(sf.Type) {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		fv := rv.Field(i)
		if omitEmpty && fv.IsZero() {
			continue
		}
		v, err := r.reduce(fv, fieldPath(path, name))
		if err != nil {
			return err
		}
		m.Set(name, v)
	}
	return nil
}

// opaqueStruct reports a struct whose state is entirely unexported. Reducing
// it to an empty Mapping would give every value the same fingerprint.
func opaqueStruct(t reflect.Type) bool {
	hidden := false
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		switch {
		case sf.IsExported():
			return false
		case sf.Anonymous && isStructLike(sf.Type):
			if !opaqueStruct(derefType(sf.Type)) {
				return false
			}
			hidden = true
		default:
			hidden = true
		}
	}
	return hidden
}

func derefType(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}

func isStructLike(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct && t != timeType
}

// fieldName reads the fingerprint tag, falling back to the json tag.
func fieldName(sf reflect.StructField) (name string, omitEmpty, skip bool) {
	tag, ok := sf.Tag.Lookup("fingerprint")
	if !ok {
		tag = sf.Tag.Get("json")
	}
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return parts[0], omitEmpty, false
}
