// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rgraph

import (
	"fmt"
	"log/slog"
)

// orderPasses returns pass indices in dependency order: a pass
// consuming a target runs after every pass writing that target, and
// the terminal pass comes last. Cyclic configs return an error, so
// the caller can reject them before creating any GPU object.
func orderPasses(passes []PassConfig) ([]int, error) {
	n := len(passes)
	// writers of each target, in declaration order
	writers := map[string][]int{}
	for i := range passes {
		writers[passes[i].Output] = append(writers[passes[i].Output], i)
	}
	adj := make([][]int, n)
	indeg := make([]int, n)
	addEdge := func(from, to int) {
		if from == to {
			return
		}
		adj[from] = append(adj[from], to)
		indeg[to]++
	}
	for i := range passes {
		for _, in := range passes[i].Inputs {
			tgt, _ := splitInput(in)
			ws, ok := writers[tgt]
			if !ok {
				// visual defect only: the pass renders without it
				slog.Warn("rgraph: pass input has no producer, skipping",
					"pass", passes[i].Name, "input", in)
				continue
			}
			for _, w := range ws {
				addEdge(w, i)
			}
		}
		// passes sharing an output run in declaration order
		if ws := writers[passes[i].Output]; len(ws) > 1 {
			for k := 0; k+1 < len(ws); k++ {
				addEdge(ws[k], ws[k+1])
			}
		}
	}
	// the terminal pass is ordered after every other pass
	for i := range passes {
		if passes[i].Output == WindowTarget {
			for j := range passes {
				if j != i {
					addEdge(j, i)
				}
			}
		}
	}
	// dedupe edges introduced by the passes above
	for i := range adj {
		seen := map[int]bool{}
		uniq := adj[i][:0]
		for _, to := range adj[i] {
			if seen[to] {
				indeg[to]--
				continue
			}
			seen[to] = true
			uniq = append(uniq, to)
		}
		adj[i] = uniq
	}

	// Kahn's algorithm, preferring declaration order among ready passes
	order := make([]int, 0, n)
	ready := []int{}
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}
	for len(ready) > 0 {
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)
		for _, to := range adj[cur] {
			indeg[to]--
			if indeg[to] == 0 {
				ready = append(ready, to)
			}
		}
	}
	if len(order) != n {
		cyc := []string{}
		for i := 0; i < n; i++ {
			if indeg[i] > 0 {
				cyc = append(cyc, passes[i].Name)
			}
		}
		return nil, fmt.Errorf("rgraph: cyclic pass dependencies involving %v", cyc)
	}
	return order, nil
}
