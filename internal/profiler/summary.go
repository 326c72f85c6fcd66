// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package profiler

import (
	"sort"
)

// FunctionCount aggregates samples for one function name. Self counts samples
// where the function was the leaf; Total counts samples where it appeared
// anywhere on the stack.
type FunctionCount struct {
	Name  string `json:"name"`
	Self  int    `json:"self"`
	Total int    `json:"total"`
}

// HotFunctions returns up to n functions ordered by self samples, then total
// samples. A non-positive n returns every function.
func (t *Trace) HotFunctions(n int) []FunctionCount {
	if t == nil {
		return nil
	}

	counts := make(map[string]*FunctionCount)
	get := func(name string) *FunctionCount {
		c, ok := counts[name]
		if !ok {
			c = &FunctionCount{Name: name}
			counts[name] = c
		}
		return c
	}

	seen := make(map[string]bool)
	for _, sample := range t.Samples {
		if sample.StackID == nil || *sample.StackID < 0 || *sample.StackID >= len(t.Stacks) {
			continue
		}
		clear(seen)

		id := *sample.StackID
		leaf := true
		// bounded walk so a malformed parent cycle cannot hang
		for steps := 0; steps < len(t.Stacks); steps++ {
			node := t.Stacks[id]
			if node.FrameID >= 0 && node.FrameID < len(t.Frames) {
				name := t.Frames[node.FrameID].Name
				c := get(name)
				if leaf {
					c.Self++
				}
				// recursion counts once per sample
				if !seen[name] {
					c.Total++
					seen[name] = true
				}
			}
			leaf = false
			if node.ParentID == nil || *node.ParentID < 0 || *node.ParentID >= len(t.Stacks) {
				break
			}
			id = *node.ParentID
		}
	}

	out := make([]FunctionCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Self != out[j].Self {
			return out[i].Self > out[j].Self
		}
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Name < out[j].Name
	})

	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
