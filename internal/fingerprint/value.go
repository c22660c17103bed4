package fingerprint

import (
	"fmt"
	"io"
)

// Kind identifies the variant of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindText
	KindBytes
	KindSequence
	KindMapping
	KindTable
)

var kindNames = [...]string{
	KindNull:     "null",
	KindBool:     "bool",
	KindInt:      "int",
	KindFloat:    "float",
	KindText:     "text",
	KindBytes:    "bytes",
	KindSequence: "sequence",
	KindMapping:  "mapping",
	KindTable:    "table",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is a canonical value. The set of implementations is closed; build
// values with the types in this package, From, or FromYAML.
type Value interface {
	Kind() Kind
	isValue()
}

// Null is the absent value.
type Null struct{}

// Bool is a boolean scalar.
type Bool bool

// Int is a signed integer scalar.
type Int int64

// Uint is an unsigned integer scalar. It shares the integer tag with Int, so
// Int(7) and Uint(7) are the same canonical value.
type Uint uint64

// Float is a floating point scalar. Float(1) and Int(1) are different
// canonical values.
type Float float64

// Text is a string scalar.
type Text string

// Bytes is an opaque byte string scalar.
type Bytes []byte

// Sequence is an ordered list of values.
type Sequence []Value

func (Null) Kind() Kind     { return KindNull }
func (Bool) Kind() Kind     { return KindBool }
func (Int) Kind() Kind      { return KindInt }
func (Uint) Kind() Kind     { return KindInt }
func (Float) Kind() Kind    { return KindFloat }
func (Text) Kind() Kind     { return KindText }
func (Bytes) Kind() Kind    { return KindBytes }
func (Sequence) Kind() Kind { return KindSequence }

func (Null) isValue()     {}
func (Bool) isValue()     {}
func (Int) isValue()      {}
func (Uint) isValue()     {}
func (Float) isValue()    {}
func (Text) isValue()     {}
func (Bytes) isValue()    {}
func (Sequence) isValue() {}

// Field is one named entry of a Mapping.
type Field struct {
	Name  string
	Value Value
}

// Mapping is a set of uniquely named fields. It remembers insertion order
// for display, but canonical encoding always sorts fields by name.
//
// The zero value is an empty mapping ready to use.
type Mapping struct {
	fields []Field
	index  map[string]int
}

// NewMapping builds a mapping from fields. A later field replaces an
// earlier one with the same name.
func NewMapping(fields ...Field) *Mapping {
	m := &Mapping{}
	for _, f := range fields {
		m.Set(f.Name, f.Value)
	}
	return m
}

// Set adds or replaces the field name and returns m for chaining.
func (m *Mapping) Set(name string, v Value) *Mapping {
	if m.index == nil {
		m.index = make(map[string]int)
	}
	if i, ok := m.index[name]; ok {
		m.fields[i].Value = v
		return m
	}
	m.index[name] = len(m.fields)
	m.fields = append(m.fields, Field{Name: name, Value: v})
	return m
}

// Get returns the value of the field name.
func (m *Mapping) Get(name string) (Value, bool) {
	if m == nil {
		return nil, false
	}
	i, ok := m.index[name]
	if !ok {
		return nil, false
	}
	return m.fields[i].Value, true
}

// Len returns the number of fields.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.fields)
}

// Fields returns a copy of the fields in insertion order.
func (m *Mapping) Fields() []Field {
	if m == nil {
		return nil
	}
	out := make([]Field, len(m.fields))
	copy(out, m.fields)
	return out
}

func (*Mapping) Kind() Kind { return KindMapping }
func (*Mapping) isValue()   {}

// Table is an in-memory table: ordered column names and ordered rows, each
// row holding exactly one value per column. Row order is significant.
type Table struct {
	Columns []string
	Rows    [][]Value
}

func (Table) Kind() Kind { return KindTable }
func (Table) isValue()   {}

// RowStream is a table whose rows are pulled one at a time, for inputs too
// large to hold in memory. Next returns io.EOF after the last row. A
// RowStream is consumed by encoding and cannot be fingerprinted twice.
//
// A RowStream and a Table with the same columns and rows produce the same
// fingerprint.
type RowStream struct {
	Columns []string
	Next    func() ([]Value, error)
}

func (*RowStream) Kind() Kind { return KindTable }
func (*RowStream) isValue()   {}

// StreamRows returns a RowStream over rows. It is mostly useful in tests
// and for adapting row slices produced elsewhere.
func StreamRows(columns []string, rows [][]Value) *RowStream {
	i := 0
	return &RowStream{
		Columns: columns,
		Next: func() ([]Value, error) {
			if i >= len(rows) {
				return nil, io.EOF
			}
			row := rows[i]
			i++
			return row, nil
		},
	}
}
