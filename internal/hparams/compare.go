package hparams

import (
	"sort"

	"github.com/google/go-cmp/cmp"
)

// ChangeType classifies a Change.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeRemoved  ChangeType = "removed"
	ChangeModified ChangeType = "modified"
)

// Change is one difference between two documents.
type Change struct {
	Key  string     `json:"key"`
	Type ChangeType `json:"type"`
	Old  *Value     `json:"old,omitempty"`
	New  *Value     `json:"new,omitempty"`
}

var valueComparer = cmp.Comparer(func(a, b Value) bool { return a.Equal(b) })

// Equivalent reports whether a and b hold the same keys with equal values.
// Key order is irrelevant.
func Equivalent(a, b *Document) bool {
	return cmp.Equal(a.Map(), b.Map(), valueComparer)
}

// Diff lists the changes turning a into b, sorted by key.
func Diff(a, b *Document) []Change {
	before, after := a.Map(), b.Map()
	var changes []Change

	for key, oldVal := range before {
		oldVal := oldVal
		newVal, ok := after[key]
		if !ok {
			changes = append(changes, Change{Key: key, Type: ChangeRemoved, Old: &oldVal})
			continue
		}
		if !oldVal.Equal(newVal) {
			newVal := newVal
			changes = append(changes, Change{Key: key, Type: ChangeModified, Old: &oldVal, New: &newVal})
		}
	}
	for key, newVal := range after {
		if _, ok := before[key]; ok {
			continue
		}
		newVal := newVal
		changes = append(changes, Change{Key: key, Type: ChangeAdded, New: &newVal})
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Key < changes[j].Key })
	return changes
}
