package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

func mustFingerprint(t *testing.T, e *Engine, v Value) Fingerprint {
	t.Helper()
	fp, err := e.Fingerprint(v)
	require.NoError(t, err)
	return fp
}

// fitConfig builds {alpha: 1.5, name: "fit_a", knobs: [...]} inserting the
// fields in the given order.
func fitConfig(order []string, knobs ...int64) *Mapping {
	seq := make(Sequence, len(knobs))
	for i, k := range knobs {
		seq[i] = Int(k)
	}
	fields := map[string]Value{
		"alpha": Float(1.5),
		"name":  Text("fit_a"),
		"knobs": seq,
	}
	m := &Mapping{}
	for _, name := range order {
		m.Set(name, fields[name])
	}
	return m
}

func TestFingerprint_MappingInsertionOrderDoesNotMatter(t *testing.T) {
	e := Default()

	a := mustFingerprint(t, e, fitConfig([]string{"knobs", "alpha", "name"}, 1, 2, 3))
	b := mustFingerprint(t, e, fitConfig([]string{"name", "alpha", "knobs"}, 1, 2, 3))
	assert.Equal(t, a, b)

	c := mustFingerprint(t, e, fitConfig([]string{"knobs", "alpha", "name"}, 1, 2, 4))
	assert.NotEqual(t, a, c, "changing knobs must change the fingerprint")
}

func TestFingerprint_Deterministic(t *testing.T) {
	e := Default()
	v := NewMapping(
		Field{Name: "nested", Value: NewMapping(Field{Name: "x", Value: Int(1)})},
		Field{Name: "list", Value: Sequence{Text("a"), Bool(true), Null{}}},
	)
	assert.Equal(t, mustFingerprint(t, e, v), mustFingerprint(t, e, v))
	assert.Len(t, string(mustFingerprint(t, e, v)), 64)
}

func TestFingerprint_Sensitivity(t *testing.T) {
	e := Default()
	base := func() *Mapping {
		return NewMapping(
			Field{Name: "a", Value: Int(1)},
			Field{Name: "b", Value: Text("x")},
		)
	}
	ref := mustFingerprint(t, e, base())

	changed := base().Set("a", Int(2))
	added := base().Set("c", Null{})
	removed := NewMapping(Field{Name: "a", Value: Int(1)})
	renamed := NewMapping(Field{Name: "a", Value: Int(1)}, Field{Name: "bb", Value: Text("x")})

	for name, v := range map[string]Value{
		"changed value": changed,
		"added field":   added,
		"removed field": removed,
		"renamed field": renamed,
	} {
		assert.NotEqual(t, ref, mustFingerprint(t, e, v), name)
	}
}

func TestFingerprint_ScalarsAreTypeTagged(t *testing.T) {
	e := Default()
	values := []Value{Int(1), Float(1), Text("1"), Bool(true), Text("true"), Null{}, Text(""), Bytes("1")}
	seen := make(map[Fingerprint]int)
	for i, v := range values {
		fp := mustFingerprint(t, e, v)
		if j, dup := seen[fp]; dup {
			t.Fatalf("values %d (%#v) and %d (%#v) collide", j, values[j], i, v)
		}
		seen[fp] = i
	}

	assert.Equal(t, mustFingerprint(t, e, Int(7)), mustFingerprint(t, e, Uint(7)))
}

func TestFingerprint_FramingIsUnambiguous(t *testing.T) {
	e := Default()
	a := Sequence{Text("ab"), Text("c")}
	b := Sequence{Text("a"), Text("bc")}
	assert.NotEqual(t, mustFingerprint(t, e, a), mustFingerprint(t, e, b))

	nested := Sequence{Sequence{Int(1)}, Int(2)}
	flat := Sequence{Int(1), Int(2)}
	assert.NotEqual(t, mustFingerprint(t, e, nested), mustFingerprint(t, e, flat))

	emptyMap := &Mapping{}
	emptySeq := Sequence{}
	assert.NotEqual(t, mustFingerprint(t, e, emptyMap), mustFingerprint(t, e, emptySeq))
}

func TestFingerprint_SequenceOrderMatters(t *testing.T) {
	e := Default()
	assert.NotEqual(t,
		mustFingerprint(t, e, Sequence{Int(1), Int(2)}),
		mustFingerprint(t, e, Sequence{Int(2), Int(1)}))
}

func TestFingerprint_SpecialFloats(t *testing.T) {
	e := Default()
	nan := mustFingerprint(t, e, Float(math.NaN()))
	assert.Equal(t, nan, mustFingerprint(t, e, Float(math.NaN())))
	assert.NotEqual(t, mustFingerprint(t, e, Float(math.Inf(1))), mustFingerprint(t, e, Float(math.Inf(-1))))
	assert.NotEqual(t, nan, mustFingerprint(t, e, Text("NaN")))
}

func TestFingerprint_TableRowOrderMatters(t *testing.T) {
	e := Default()
	cols := []string{"pt", "eff"}
	rows := [][]Value{
		{Float(10), Float(0.91)},
		{Float(20), Float(0.95)},
	}
	permuted := [][]Value{rows[1], rows[0]}

	a := mustFingerprint(t, e, Table{Columns: cols, Rows: rows})
	b := mustFingerprint(t, e, Table{Columns: cols, Rows: permuted})
	assert.NotEqual(t, a, b)

	renamed := mustFingerprint(t, e, Table{Columns: []string{"pt", "efficiency"}, Rows: rows})
	assert.NotEqual(t, a, renamed, "column names contribute to identity")
}

func TestFingerprint_TableAndRowStreamAgree(t *testing.T) {
	e := Default()
	cols := []string{"id", "label"}
	rows := [][]Value{
		{Int(1), Text("signal")},
		{Int(2), Text("background")},
		{Int(3), Null{}},
	}
	table := mustFingerprint(t, e, Table{Columns: cols, Rows: rows})
	stream := mustFingerprint(t, e, StreamRows(cols, rows))
	assert.Equal(t, table, stream)

	empty := mustFingerprint(t, e, Table{Columns: cols})
	assert.NotEqual(t, table, empty)
	assert.NotEqual(t, empty, mustFingerprint(t, e, Sequence{}), "an empty table is not an empty sequence")
}

func TestFingerprint_TableRowArity(t *testing.T) {
	_, err := Default().Fingerprint(Table{
		Columns: []string{"a", "b"},
		Rows:    [][]Value{{Int(1), Int(2)}, {Int(3)}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedValue)
	assert.Contains(t, err.Error(), "[1]")
}

func TestFingerprint_RowStreamError(t *testing.T) {
	boom := errors.New("disk went away")
	stream := &RowStream{
		Columns: []string{"a"},
		Next:    func() ([]Value, error) { return nil, boom },
	}
	_, err := Default().Fingerprint(stream)
	assert.ErrorIs(t, err, boom)
}

func TestEngine_AlgorithmsDiffer(t *testing.T) {
	b3, err := New(WithAlgorithm(BLAKE3))
	require.NoError(t, err)
	assert.Equal(t, BLAKE3, b3.Algorithm())

	v := Text("same input")
	assert.NotEqual(t, mustFingerprint(t, Default(), v), mustFingerprint(t, b3, v))
	assert.Len(t, string(mustFingerprint(t, b3, v)), 64)
}

func TestEngine_Truncation(t *testing.T) {
	short, err := New(WithLength(ShortLength))
	require.NoError(t, err)
	assert.Equal(t, ShortLength, short.Length())
	assert.Equal(t, 64, Default().Length())

	v := Int(42)
	full := mustFingerprint(t, Default(), v)
	trunc := mustFingerprint(t, short, v)
	assert.Len(t, string(trunc), ShortLength)
	assert.True(t, strings.HasPrefix(string(full), string(trunc)))
}

func TestEngine_InvalidOptions(t *testing.T) {
	_, err := New(WithAlgorithm("md5"))
	assert.Error(t, err)

	_, err = New(WithLength(65))
	assert.Error(t, err)

	_, err = New(WithLength(-1))
	assert.Error(t, err)
}

func TestParseAlgorithm(t *testing.T) {
	for in, want := range map[string]Algorithm{"": SHA256, "SHA256": SHA256, " blake3 ": BLAKE3} {
		got, err := ParseAlgorithm(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseAlgorithm("sha1")
	assert.Error(t, err)
}

func TestFingerprintFile_MatchesPlainDigest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.bin")

	// Larger than one chunk so the streaming path loops.
	content := []byte(strings.Repeat("0123456789abcdef", (3*chunkSize)/16+7))
	require.NoError(t, os.WriteFile(path, content, 0o644))

	fp, err := Default().FingerprintFile(path)
	require.NoError(t, err)
	sum := sha256.Sum256(content)
	assert.Equal(t, Fingerprint(hex.EncodeToString(sum[:])), fp)

	b3, err := New(WithAlgorithm(BLAKE3))
	require.NoError(t, err)
	fp3, err := b3.FingerprintFile(path)
	require.NoError(t, err)
	sum3 := blake3.Sum256(content)
	assert.Equal(t, Fingerprint(hex.EncodeToString(sum3[:])), fp3)
}

func TestFingerprintFile_Missing(t *testing.T) {
	_, err := Default().FingerprintFile(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileNotFound)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestFingerprint_Validate(t *testing.T) {
	fp := mustFingerprint(t, Default(), Int(1))
	assert.NoError(t, fp.Validate())

	for _, bad := range []Fingerprint{"", "ABC", "../etc", ".tmp-abc", Fingerprint(strings.Repeat("a", 65))} {
		assert.ErrorIs(t, bad.Validate(), ErrInvalidFingerprint, string(bad))
	}

	parsed, err := Parse("  " + string(fp) + "\n")
	require.NoError(t, err)
	assert.Equal(t, fp, parsed)
}
