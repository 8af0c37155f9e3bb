package hparams

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Entry is one key/value pair of a Document. Line is the 1-based source line,
// or 0 when the entry was not parsed from a file.
type Entry struct {
	Key   string
	Value Value
	Line  int
}

// Document is a flat mapping of option names to values. It keeps the source
// order of keys; each key appears exactly once.
type Document struct {
	entries []Entry
	index   map[string]int
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{index: make(map[string]int)}
}

// LoadFile reads and parses the YAML document at path.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes a single YAML document. Empty input yields an empty document.
func Parse(data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &ParseError{Err: err}
	}

	doc := NewDocument()
	if root.Kind == 0 {
		return doc, nil
	}

	node := &root
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return doc, nil
		}
		node = node.Content[0]
	}
	if node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null" {
		return doc, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, &ParseError{Line: node.Line, Err: ErrNotMapping}
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]
		if keyNode.Kind != yaml.ScalarNode || keyNode.ShortTag() == "!!merge" {
			return nil, &ParseError{Line: keyNode.Line, Err: ErrNotFlat}
		}
		key := keyNode.Value

		if prev, ok := doc.index[key]; ok {
			return nil, &ParseError{
				Line: keyNode.Line,
				Key:  key,
				Err:  fmt.Errorf("%w (first defined on line %d)", ErrDuplicateKey, doc.entries[prev].Line),
			}
		}

		value, err := valueFromNode(valueNode, true)
		if err != nil {
			return nil, &ParseError{Line: valueNode.Line, Key: key, Err: err}
		}

		doc.index[key] = len(doc.entries)
		doc.entries = append(doc.entries, Entry{Key: key, Value: value, Line: keyNode.Line})
	}

	return doc, nil
}

func valueFromNode(n *yaml.Node, allowList bool) (Value, error) {
	if n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}

	switch n.Kind {
	case yaml.ScalarNode:
		return scalarFromNode(n)
	case yaml.SequenceNode:
		if !allowList {
			return Value{}, ErrNotFlat
		}
		items := make([]Value, 0, len(n.Content))
		for _, child := range n.Content {
			item, err := valueFromNode(child, false)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return Value{kind: KindList, list: items}, nil
	default:
		return Value{}, ErrNotFlat
	}
}

func scalarFromNode(n *yaml.Node) (Value, error) {
	switch n.ShortTag() {
	case "!!null":
		return Null(), nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			return Value{}, fmt.Errorf("%w: %s", ErrIntRange, n.Value)
		}
		return Int(i), nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return Value{}, err
		}
		return Float(f), nil
	default:
		// !!str and anything YAML resolves to a string-like type (timestamps, binary).
		return String(n.Value), nil
	}
}

// Len returns the number of keys.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.entries)
}

// Keys returns the keys in source order.
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}
	keys := make([]string, len(d.entries))
	for i, e := range d.entries {
		keys[i] = e.Key
	}
	return keys
}

// Entries returns a copy of the entries in source order.
func (d *Document) Entries() []Entry {
	if d == nil {
		return nil
	}
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Get returns the value stored under key.
func (d *Document) Get(key string) (Value, bool) {
	if d == nil {
		return Value{}, false
	}
	idx, ok := d.index[key]
	if !ok {
		return Value{}, false
	}
	return d.entries[idx].Value, true
}

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Line returns the source line of key, or 0 if unknown.
func (d *Document) Line(key string) int {
	if d == nil {
		return 0
	}
	if idx, ok := d.index[key]; ok {
		return d.entries[idx].Line
	}
	return 0
}

// Set replaces the value of key, or appends it when absent.
func (d *Document) Set(key string, v Value) {
	if d.index == nil {
		d.index = make(map[string]int)
	}
	if idx, ok := d.index[key]; ok {
		d.entries[idx].Value = v
		return
	}
	d.index[key] = len(d.entries)
	d.entries = append(d.entries, Entry{Key: key, Value: v})
}

// Delete removes key and reports whether it was present.
func (d *Document) Delete(key string) bool {
	idx, ok := d.index[key]
	if !ok {
		return false
	}
	d.entries = append(d.entries[:idx], d.entries[idx+1:]...)
	delete(d.index, key)
	for i := idx; i < len(d.entries); i++ {
		d.index[d.entries[i].Key] = i
	}
	return true
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	out := NewDocument()
	if d == nil {
		return out
	}
	out.entries = make([]Entry, len(d.entries))
	for i, e := range d.entries {
		if e.Value.kind == KindList {
			e.Value = List(e.Value.list...)
		}
		out.entries[i] = e
		out.index[e.Key] = i
	}
	return out
}

// Map returns the document as a map keyed by option name.
func (d *Document) Map() map[string]Value {
	out := make(map[string]Value, d.Len())
	if d == nil {
		return out
	}
	for _, e := range d.entries {
		out[e.Key] = e.Value
	}
	return out
}
