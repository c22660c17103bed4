package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func yamlFP(t *testing.T, doc string) Fingerprint {
	t.Helper()
	v, err := FromYAML([]byte(doc))
	require.NoError(t, err)
	return mustFingerprint(t, Default(), v)
}

func TestFromYAML_KeyOrderDoesNotMatter(t *testing.T) {
	a := yamlFP(t, "knobs: [1, 2, 3]\nalpha: 1.5\nname: fit_a\n")
	b := yamlFP(t, "name: fit_a\nalpha: 1.5\nknobs:\n  - 1\n  - 2\n  - 3\n")
	assert.Equal(t, a, b)

	assert.Equal(t, a, fpOf(t, knobs{Alpha: 1.5, Name: "fit_a", Knobs: []int{1, 2, 3}}),
		"yaml and Go struct forms of the same configuration agree")

	c := yamlFP(t, "knobs: [1, 2, 4]\nalpha: 1.5\nname: fit_a\n")
	assert.NotEqual(t, a, c)
}

func TestFromYAML_ScalarTags(t *testing.T) {
	v, err := FromYAML([]byte(`
int: 1
float: 1.0
str: "1"
bool: yes_is_a_string_in_yaml_1_2
truth: true
nothing: null
tilde: ~
hex: 0x1F
big: 18446744073709551615
huge: !!int 123456789012345678901234567890
bin: !!binary aGVsbG8=
when: 2001-12-14t21:59:43.10-05:00
`))
	require.NoError(t, err)
	m := v.(*Mapping)

	get := func(name string) Value {
		val, ok := m.Get(name)
		require.True(t, ok, name)
		return val
	}
	assert.Equal(t, Int(1), get("int"))
	assert.Equal(t, Float(1), get("float"))
	assert.Equal(t, Text("1"), get("str"))
	assert.Equal(t, Text("yes_is_a_string_in_yaml_1_2"), get("bool"))
	assert.Equal(t, Bool(true), get("truth"))
	assert.Equal(t, Null{}, get("nothing"))
	assert.Equal(t, Null{}, get("tilde"))
	assert.Equal(t, Int(31), get("hex"))
	assert.Equal(t, Uint(18446744073709551615), get("big"))
	assert.Equal(t, Text("123456789012345678901234567890"), get("huge"))
	assert.Equal(t, Bytes("hello"), get("bin"))
	assert.Equal(t, Text("2001-12-15T02:59:43.1Z"), get("when"))
}

func TestFromYAML_AliasesAndMerge(t *testing.T) {
	withMerge := yamlFP(t, `
defaults: &defaults
  bins: 10
  seed: 1
fit:
  <<: *defaults
  seed: 2
`)
	expanded := yamlFP(t, `
defaults:
  bins: 10
  seed: 1
fit:
  seed: 2
  bins: 10
`)
	assert.Equal(t, expanded, withMerge)
}

func TestFromYAML_Errors(t *testing.T) {
	_, err := FromYAML([]byte("a: 1\na: 2\n"))
	assert.Error(t, err)

	_, err = FromYAML([]byte("a: !custom thing\n"))
	assert.ErrorIs(t, err, ErrUnsupportedValueKind)

	_, err = FromYAML([]byte("? [1, 2]\n: x\n"))
	assert.ErrorIs(t, err, ErrUnsupportedValueKind)
}

func TestFromYAML_EmptyDocumentIsNull(t *testing.T) {
	v, err := FromYAML(nil)
	require.NoError(t, err)
	assert.Equal(t, Null{}, v)
}
