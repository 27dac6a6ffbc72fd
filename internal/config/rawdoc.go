package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// RawDoc wraps the top-level yaml.Node tree so unknown keys survive a
// decode/modify/encode round-trip untouched. Typed access (Document) is
// for code that cares about specific fields; RawDoc is for preserving
// everything else, and for surfacing unknown keys as warnings instead of
// silently dropping them.
type RawDoc struct {
	root *yaml.Node
}

func newRawDoc(data []byte) (*RawDoc, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	return &RawDoc{root: &root}, nil
}

// KnownTopLevelKeys are the keys the typed Document understands; anything
// else found at the document root is an "unknown key" for UnknownKeys'
// purposes.
var KnownTopLevelKeys = map[string]struct{}{
	"module":   {},
	"executor": {},
	"channel":  {},
	"logging":  {},
}

// UnknownKeys returns the top-level mapping keys present in the document
// that Document does not model, so callers can warn about them.
func (r *RawDoc) UnknownKeys() []string {
	if r.root == nil || len(r.root.Content) == 0 {
		return nil
	}
	mapping := r.root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil
	}
	var unknown []string
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key := mapping.Content[i].Value
		if _, known := KnownTopLevelKeys[key]; !known {
			unknown = append(unknown, key)
		}
	}
	return unknown
}

// Marshal re-encodes the preserved tree, byte-identical in structure to
// the source document modulo yaml.v3's own canonical formatting (key
// order, comments, and unknown keys are all preserved; only whitespace
// style may be normalized).
func (r *RawDoc) Marshal() ([]byte, error) {
	out, err := yaml.Marshal(r.root)
	if err != nil {
		return nil, fmt.Errorf("config: marshal raw doc: %w", err)
	}
	return out, nil
}

// Node exposes the underlying root node for callers that need to mutate a
// specific key while leaving everything else untouched.
func (r *RawDoc) Node() *yaml.Node {
	return r.root
}
