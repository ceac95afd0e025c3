// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scene

import (
	"sync"
)

// Arena holds the scene's nodes at stable indices: an index handed
// out by Add stays valid until Remove, and removed slots are reused.
// Cross-references between nodes (instance master links) are stored
// as these indices, keeping teardown order independent of the
// reference graph shape.
type Arena struct {
	mu    sync.Mutex
	nodes []*Node
	free  []int
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// Add inserts a node, returning its stable index.
func (ar *Arena) Add(nd *Node) int {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	var idx int
	if n := len(ar.free); n > 0 {
		idx = ar.free[n-1]
		ar.free = ar.free[:n-1]
		ar.nodes[idx] = nd
	} else {
		idx = len(ar.nodes)
		ar.nodes = append(ar.nodes, nd)
	}
	nd.index = idx
	return idx
}

// Node returns the node at idx, nil for empty or out-of-range slots.
func (ar *Arena) Node(idx int) *Node {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	if idx < 0 || idx >= len(ar.nodes) {
		return nil
	}
	return ar.nodes[idx]
}

// Remove empties the slot at idx for reuse. Slaves pointing at a
// removed master keep their index and simply stop drawing.
func (ar *Arena) Remove(idx int) {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	if idx < 0 || idx >= len(ar.nodes) || ar.nodes[idx] == nil {
		return
	}
	ar.nodes[idx].index = -1
	ar.nodes[idx] = nil
	ar.free = append(ar.free, idx)
}

// Len returns the number of occupied slots.
func (ar *Arena) Len() int {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return len(ar.nodes) - len(ar.free)
}

// Do calls fn for every occupied slot in index order.
func (ar *Arena) Do(fn func(idx int, nd *Node)) {
	ar.mu.Lock()
	nodes := make([]*Node, len(ar.nodes))
	copy(nodes, ar.nodes)
	ar.mu.Unlock()
	for i, nd := range nodes {
		if nd != nil {
			fn(i, nd)
		}
	}
}

// Visible returns the indices of nodes that draw directly in the
// given pass, in index order: visible, mesh-bearing, and not instance
// slaves. The render engine compares successive results to detect
// membership or order changes.
func (ar *Arena) Visible(pass string) []int {
	var out []int
	ar.Do(func(idx int, nd *Node) {
		nd.Lock()
		ok := !nd.Hidden && nd.Mesh != nil && !nd.IsSlave() && nd.Pass == pass
		nd.Unlock()
		if ok {
			out = append(out, idx)
		}
	})
	return out
}

// Slaves returns the indices of visible slaves of the given master,
// in index order. Their count is the master's draw instance count.
func (ar *Arena) Slaves(master int) []int {
	var out []int
	ar.Do(func(idx int, nd *Node) {
		nd.Lock()
		ok := !nd.Hidden && nd.Master == master
		nd.Unlock()
		if ok {
			out = append(out, idx)
		}
	})
	return out
}
