// SPDX-License-Identifier: MPL-2.0

package pkgindex

import (
	"iter"
	"maps"
	"slices"
)

// Index is an in-memory package index. Keys are masked on the way in and
// never at lookup time. Iteration follows insertion order, which is also the
// order entries are serialized in.
//
// The zero value is an empty Index ready to use. An Index is not safe for
// concurrent mutation.
type Index struct {
	entries map[uint64]string
	order   []uint64
}

// New returns an empty Index.
func New() *Index {
	return &Index{entries: make(map[uint64]string)}
}

// Len returns the number of entries.
func (x *Index) Len() int {
	return len(x.order)
}

// Lookup returns the string stored for id. The id is used as given; callers
// holding an unmasked identifier should pass it through Mask first.
func (x *Index) Lookup(id uint64) (string, bool) {
	v, ok := x.entries[id]
	return v, ok
}

// Insert masks id and stores value unless an entry for the masked id already
// exists. It reports whether the value was stored.
func (x *Index) Insert(id uint64, value string) bool {
	id = Mask(id)
	if _, exists := x.entries[id]; exists {
		return false
	}
	x.init()
	x.entries[id] = value
	x.order = append(x.order, id)
	return true
}

// Set masks id and stores value, replacing any existing entry. A replaced
// entry keeps its original position.
func (x *Index) Set(id uint64, value string) {
	id = Mask(id)
	x.init()
	if _, exists := x.entries[id]; !exists {
		x.order = append(x.order, id)
	}
	x.entries[id] = value
}

// All yields every entry in insertion order.
func (x *Index) All() iter.Seq2[uint64, string] {
	return func(yield func(uint64, string) bool) {
		for _, id := range x.order {
			if !yield(id, x.entries[id]) {
				return
			}
		}
	}
}

// IDs returns a copy of the identifiers in insertion order.
func (x *Index) IDs() []uint64 {
	return slices.Clone(x.order)
}

// Map returns a copy of the entries as a plain map.
func (x *Index) Map() map[uint64]string {
	if x.entries == nil {
		return map[uint64]string{}
	}
	return maps.Clone(x.entries)
}

func (x *Index) init() {
	if x.entries == nil {
		x.entries = make(map[uint64]string)
	}
}
