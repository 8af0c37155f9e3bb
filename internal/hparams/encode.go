package hparams

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Encode serializes doc in canonical form: known options grouped by section in
// registry order, each section headed by a comment, unknown options last in
// source order.
func Encode(doc *Document) ([]byte, error) {
	reg := DefaultRegistry()
	mapping := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}

	var lastSection Section
	for _, e := range canonicalOrder(reg, doc) {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Key}
		if f, ok := reg.Lookup(e.Key); ok {
			if f.Section != lastSection {
				keyNode.HeadComment = "# " + string(f.Section)
				lastSection = f.Section
			}
		} else if lastSection != "" {
			keyNode.HeadComment = "# other"
			lastSection = ""
		}
		mapping.Content = append(mapping.Content, keyNode, valueNode(e.Value))
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(mapping); err != nil {
		return nil, fmt.Errorf("encode YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode YAML: %w", err)
	}
	return buf.Bytes(), nil
}

func canonicalOrder(reg *Registry, doc *Document) []Entry {
	entries := doc.Entries()
	sort.SliceStable(entries, func(i, j int) bool {
		pi, pj := reg.position(entries[i].Key), reg.position(entries[j].Key)
		switch {
		case pi < 0 && pj < 0:
			return false
		case pi < 0:
			return false
		case pj < 0:
			return true
		default:
			return pi < pj
		}
	})
	return entries
}

func valueNode(v Value) *yaml.Node {
	switch v.kind {
	case KindBool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v.b)}
	case KindInt:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(v.i, 10)}
	case KindFloat:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: formatFloat(v.f)}
	case KindString:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.s}
	case KindList:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Style: yaml.FlowStyle}
		for _, item := range v.list {
			seq.Content = append(seq.Content, valueNode(item))
		}
		return seq
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	}
}
