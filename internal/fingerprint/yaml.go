package fingerprint

import (
	"fmt"
	"math/big"
	"time"

	"gopkg.in/yaml.v3"
)

// maxAliasDepth bounds alias expansion so that self-referencing documents
// fail instead of recursing forever.
const maxAliasDepth = 64

// FromYAML parses a single YAML document and reduces it to a Value. An
// empty document is Null.
func FromYAML(data []byte) (Value, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}
	return FromYAMLNode(&doc)
}

// FromYAMLNode reduces a decoded YAML node.
//
// Scalars are typed by their resolved YAML tag, so `1`, `1.0` and `"1"`
// become Int, Float and Text respectively. Mapping keys must be scalars and
// unique; merge keys (`<<`) are applied without overriding explicit keys.
// Unknown tags fail with ErrUnsupportedValueKind.
func FromYAMLNode(n *yaml.Node) (Value, error) {
	return yamlValue(n, "", 0)
}

func yamlValue(n *yaml.Node, path string, aliasDepth int) (Value, error) {
	if n == nil {
		return Null{}, nil
	}
	switch n.Kind {
	case 0:
		return Null{}, nil
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return Null{}, nil
		}
		return yamlValue(n.Content[0], path, aliasDepth)
	case yaml.AliasNode:
		if aliasDepth >= maxAliasDepth {
			return nil, fmt.Errorf("%w: alias nesting exceeds %d at %s", ErrMalformedValue, maxAliasDepth, displayPath(path))
		}
		return yamlValue(n.Alias, path, aliasDepth+1)
	case yaml.SequenceNode:
		seq := make(Sequence, len(n.Content))
		for i, c := range n.Content {
			v, err := yamlValue(c, indexPath(path, i), aliasDepth)
			if err != nil {
				return nil, err
			}
			seq[i] = v
		}
		return seq, nil
	case yaml.MappingNode:
		return yamlMapping(n, path, aliasDepth)
	case yaml.ScalarNode:
		return yamlScalar(n, path)
	default:
		return nil, fmt.Errorf("%w: yaml node kind %d at %s", ErrUnsupportedValueKind, n.Kind, displayPath(path))
	}
}

func yamlMapping(n *yaml.Node, path string, aliasDepth int) (Value, error) {
	m := &Mapping{}
	var merges []*yaml.Node

	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if k.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("%w: non-scalar mapping key at %s (line %d)", ErrUnsupportedValueKind, displayPath(path), k.Line)
		}
		if k.ShortTag() == "!!merge" {
			merges = append(merges, v)
			continue
		}
		if _, dup := m.Get(k.Value); dup {
			return nil, fmt.Errorf("%w: duplicate key %q at %s (line %d)", ErrMalformedValue, k.Value, displayPath(path), k.Line)
		}
		val, err := yamlValue(v, fieldPath(path, k.Value), aliasDepth)
		if err != nil {
			return nil, err
		}
		m.Set(k.Value, val)
	}

	for _, src := range merges {
		if src.Kind == yaml.AliasNode {
			src = src.Alias
		}
		sources := []*yaml.Node{src}
		if src.Kind == yaml.SequenceNode {
			sources = src.Content
		}
		for _, s := range sources {
			mv, err := yamlValue(s, path, aliasDepth+1)
			if err != nil {
				return nil, err
			}
			merged, ok := mv.(*Mapping)
			if !ok {
				return nil, fmt.Errorf("%w: merge source at %s is %s, want mapping", ErrMalformedValue, displayPath(path), mv.Kind())
			}
			for _, f := range merged.Fields() {
				if _, exists := m.Get(f.Name); !exists {
					m.Set(f.Name, f.Value)
				}
			}
		}
	}
	return m, nil
}

func yamlScalar(n *yaml.Node, path string) (Value, error) {
	switch n.ShortTag() {
	case "!!null":
		return Null{}, nil
	case "!!str":
		return Text(n.Value), nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, fmt.Errorf("decoding bool at %s: %w", displayPath(path), err)
		}
		return Bool(b), nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err == nil {
			return Int(i), nil
		}
		var u uint64
		if err := n.Decode(&u); err == nil {
			return Uint(u), nil
		}
		// Integers beyond 64 bits keep their exact decimal digits.
		if b, ok := new(big.Int).SetString(n.Value, 0); ok {
			return Text(b.String()), nil
		}
		return nil, fmt.Errorf("%w: integer %q at %s", ErrMalformedValue, n.Value, displayPath(path))
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return nil, fmt.Errorf("decoding float at %s: %w", displayPath(path), err)
		}
		return Float(f), nil
	case "!!binary":
		var s string
		if err := n.Decode(&s); err != nil {
			return nil, fmt.Errorf("decoding binary at %s: %w", displayPath(path), err)
		}
		return Bytes(s), nil
	case "!!timestamp":
		var t time.Time
		if err := n.Decode(&t); err != nil {
			return nil, fmt.Errorf("decoding timestamp at %s: %w", displayPath(path), err)
		}
		return Text(t.UTC().Format(time.RFC3339Nano)), nil
	default:
		return nil, fmt.Errorf("%w: yaml tag %s at %s (line %d)", ErrUnsupportedValueKind, n.Tag, displayPath(path), n.Line)
	}
}
