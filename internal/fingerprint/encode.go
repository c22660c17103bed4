package fingerprint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"
	"sort"
	"strconv"
)

// Frame tags. Each frame is a tag byte, an 8-byte big-endian length or
// count, and for length frames the payload bytes.
const (
	tagNull     = 'n'
	tagBool     = 'b'
	tagInt      = 'i'
	tagFloat    = 'f'
	tagText     = 's'
	tagBytes    = 'x'
	tagSequence = 'L'
	tagMapping  = 'M'
	tagName     = 'k'
	tagTable    = 'T'
	tagColumns  = 'C'
	tagRow      = 'r'
	tagRowCount = 'e'
)

// encoder writes the canonical encoding of values into a running digest.
type encoder struct {
	h       hash.Hash
	newHash func() hash.Hash
	hdr     [9]byte
}

func newEncoder(newHash func() hash.Hash) *encoder {
	return &encoder{h: newHash(), newHash: newHash}
}

func (e *encoder) header(tag byte, n uint64) {
	e.hdr[0] = tag
	binary.BigEndian.PutUint64(e.hdr[1:], n)
	// hash.Hash.Write never returns an error.
	_, _ = e.h.Write(e.hdr[:])
}

func (e *encoder) frame(tag byte, payload []byte) {
	e.header(tag, uint64(len(payload)))
	_, _ = e.h.Write(payload)
}

func (e *encoder) frameString(tag byte, s string) {
	e.header(tag, uint64(len(s)))
	_, _ = io.WriteString(e.h, s)
}

func (e *encoder) encode(v Value, path string) error {
	switch v := v.(type) {
	case nil, Null:
		e.header(tagNull, 0)
	case Bool:
		e.frameString(tagBool, strconv.FormatBool(bool(v)))
	case Int:
		e.frameString(tagInt, strconv.FormatInt(int64(v), 10))
	case Uint:
		e.frameString(tagInt, strconv.FormatUint(uint64(v), 10))
	case Float:
		e.frameString(tagFloat, formatFloat(float64(v)))
	case Text:
		e.frameString(tagText, string(v))
	case Bytes:
		e.frame(tagBytes, v)
	case Sequence:
		e.header(tagSequence, uint64(len(v)))
		for i, elem := range v {
			if err := e.encode(elem, indexPath(path, i)); err != nil {
				return err
			}
		}
	case *Mapping:
		return e.encodeMapping(v, path)
	case Table:
		return e.encodeTable(v.Columns, StreamRows(v.Columns, v.Rows).Next, path)
	case *RowStream:
		if v == nil || v.Next == nil {
			return fmt.Errorf("%w: row stream without source at %s", ErrMalformedValue, displayPath(path))
		}
		return e.encodeTable(v.Columns, v.Next, path)
	default:
		return fmt.Errorf("%w: %T at %s", ErrUnsupportedValueKind, v, displayPath(path))
	}
	return nil
}

func (e *encoder) encodeMapping(m *Mapping, path string) error {
	fields := m.Fields()
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })

	e.header(tagMapping, uint64(len(fields)))
	for _, f := range fields {
		e.frameString(tagName, f.Name)
		if err := e.encode(f.Value, fieldPath(path, f.Name)); err != nil {
			return err
		}
	}
	return nil
}

// encodeTable writes the column list, then one sub-digest per row, then the
// row count. Rows are never buffered beyond the one being digested.
func (e *encoder) encodeTable(columns []string, next func() ([]Value, error), path string) error {
	e.header(tagTable, 2)
	e.header(tagColumns, uint64(len(columns)))
	for _, c := range columns {
		e.frameString(tagText, c)
	}

	var count uint64
	for {
		row, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading table row %d at %s: %w", count, displayPath(path), err)
		}
		rowPath := indexPath(path, int(count))
		if len(row) != len(columns) {
			return fmt.Errorf("%w: table row at %s has %d cells, want %d",
				ErrMalformedValue, displayPath(rowPath), len(row), len(columns))
		}

		sub := newEncoder(e.newHash)
		sub.header(tagSequence, uint64(len(row)))
		for i, cell := range row {
			if err := sub.encode(cell, fieldPath(rowPath, columns[i])); err != nil {
				return err
			}
		}
		e.frame(tagRow, sub.h.Sum(nil))
		count++
	}
	e.header(tagRowCount, count)
	return nil
}

// formatFloat uses the shortest representation that round-trips. NaN and
// the infinities come out as "NaN", "+Inf" and "-Inf".
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func indexPath(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}

func fieldPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func displayPath(path string) string {
	if path == "" {
		return "<root>"
	}
	return path
}
