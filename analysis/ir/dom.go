// Copyright the gc-tools authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ir

import (
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/flow"
)

// CFG is an abstraction over a function's control flow graph to work with existing
// graph libraries. Node ids are block positions in the function's block list. It
// implements Gonum's graph.Directed.
type CFG struct {
	Fn     *Function
	IDMap  map[int64]cfgNode
	BlkIDs map[*BasicBlock]int64
	Out    map[int64][]int64
	In     map[int64][]int64
}

// NewCFG builds the directed graph view of f.
func NewCFG(f *Function) *CFG {
	c := &CFG{
		Fn:     f,
		IDMap:  make(map[int64]cfgNode, len(f.Blocks)),
		BlkIDs: make(map[*BasicBlock]int64, len(f.Blocks)),
		Out:    map[int64][]int64{},
		In:     map[int64][]int64{},
	}
	for i, b := range f.Blocks {
		id := int64(i)
		c.IDMap[id] = cfgNode{id: id, block: b}
		c.BlkIDs[b] = id
	}
	for _, b := range f.Blocks {
		from := c.BlkIDs[b]
		seen := map[int64]bool{}
		for _, s := range b.Succs() {
			to := c.BlkIDs[s]
			if seen[to] {
				continue
			}
			seen[to] = true
			c.Out[from] = append(c.Out[from], to)
			c.In[to] = append(c.In[to], from)
		}
	}
	return c
}

func (c *CFG) Block(id int64) *BasicBlock { return c.IDMap[id].block }

// Order implements the order of the graph.Iterator interface for the CFG
func (c *CFG) Order() int { return len(c.Fn.Blocks) }

// Visit implements the graph.Iterator interface for the CFG
func (c *CFG) Visit(v int, do func(w int, cost int64) (skip bool)) (aborted bool) {
	for _, w := range c.Out[int64(v)] {
		if do(int(w), 1) {
			return true
		}
	}
	return false
}

// Node implements the graph.Directed interface
func (c *CFG) Node(id int64) graph.Node {
	n, ok := c.IDMap[id]
	if !ok {
		return nil
	}
	return n
}

// Nodes returns the set of nodes in the graph
func (c *CFG) Nodes() graph.Nodes {
	ids := make([]int64, len(c.Fn.Blocks))
	for i := range c.Fn.Blocks {
		ids[i] = int64(i)
	}
	return &cfgNodeSet{graph: c, ids: ids, cur: -1}
}

// From returns the successors of the id
func (c *CFG) From(id int64) graph.Nodes {
	return &cfgNodeSet{graph: c, ids: c.Out[id], cur: -1}
}

// To returns the predecessors of the id
func (c *CFG) To(id int64) graph.Nodes {
	return &cfgNodeSet{graph: c, ids: c.In[id], cur: -1}
}

// HasEdgeFromTo returns whether a directed edge exists from uid to vid
func (c *CFG) HasEdgeFromTo(uid, vid int64) bool {
	for _, w := range c.Out[uid] {
		if w == vid {
			return true
		}
	}
	return false
}

// HasEdgeBetween returns whether an edge exists between the two ids in either direction
func (c *CFG) HasEdgeBetween(xid, yid int64) bool {
	return c.HasEdgeFromTo(xid, yid) || c.HasEdgeFromTo(yid, xid)
}

// Edge returns the edge between the two identifiers (nil if none exists)
func (c *CFG) Edge(uid, vid int64) graph.Edge {
	if c.HasEdgeFromTo(uid, vid) {
		return cfgEdge{from: c.IDMap[uid], to: c.IDMap[vid]}
	}
	return nil
}

type cfgNode struct {
	id    int64
	block *BasicBlock
}

func (n cfgNode) ID() int64      { return n.id }
func (n cfgNode) String() string { return n.block.Name() }

type cfgNodeSet struct {
	graph *CFG
	ids   []int64
	cur   int
}

func (ns *cfgNodeSet) Next() bool {
	if ns.cur < len(ns.ids)-1 {
		ns.cur++
		return true
	}
	return false
}

func (ns *cfgNodeSet) Len() int { return len(ns.ids) }

func (ns *cfgNodeSet) Reset() { ns.cur = -1 }

func (ns *cfgNodeSet) Node() graph.Node { return ns.graph.IDMap[ns.ids[ns.cur]] }

type cfgEdge struct {
	from cfgNode
	to   cfgNode
}

func (e cfgEdge) From() graph.Node         { return e.from }
func (e cfgEdge) To() graph.Node           { return e.to }
func (e cfgEdge) ReversedEdge() graph.Edge { return cfgEdge{from: e.to, to: e.from} }

// DomTree is the dominator tree of a function, with constant-time dominance queries via
// a preorder/postorder numbering of the tree.
type DomTree struct {
	fn       *Function
	idom     map[*BasicBlock]*BasicBlock
	children map[*BasicBlock][]*BasicBlock
	pre      map[*BasicBlock]int
	post     map[*BasicBlock]int
}

// BuildDomTree computes the dominator tree of f. Unreachable blocks are dominated by
// nothing and answer false to every query.
func BuildDomTree(f *Function) *DomTree {
	cfg := NewCFG(f)
	dt := flow.Dominators(cfg.Node(0), cfg)

	t := &DomTree{
		fn:       f,
		idom:     map[*BasicBlock]*BasicBlock{},
		children: map[*BasicBlock][]*BasicBlock{},
		pre:      map[*BasicBlock]int{},
		post:     map[*BasicBlock]int{},
	}
	for i, b := range f.Blocks {
		if i == 0 {
			continue
		}
		if id := dt.DominatorOf(int64(i)); id != nil {
			p := cfg.Block(id.ID())
			t.idom[b] = p
			t.children[p] = append(t.children[p], b)
		}
	}
	t.number(f.Entry(), 0)
	return t
}

func (t *DomTree) number(b *BasicBlock, n int) int {
	t.pre[b] = n
	n++
	for _, c := range t.children[b] {
		n = t.number(c, n)
	}
	t.post[b] = n
	return n + 1
}

// IDom returns the immediate dominator of b, or nil for the entry and for unreachable
// blocks.
func (t *DomTree) IDom(b *BasicBlock) *BasicBlock { return t.idom[b] }

// Children returns the dominator tree children of b.
func (t *DomTree) Children(b *BasicBlock) []*BasicBlock { return t.children[b] }

// Dominates reports whether a dominates b. Every reachable block dominates itself.
func (t *DomTree) Dominates(a, b *BasicBlock) bool {
	pa, oka := t.pre[a]
	pb, okb := t.pre[b]
	if !oka || !okb {
		return false
	}
	return pa <= pb && t.post[a] >= t.post[b]
}

// StrictlyDominates reports whether a dominates b and a != b.
func (t *DomTree) StrictlyDominates(a, b *BasicBlock) bool {
	return a != b && t.Dominates(a, b)
}

// InstrDominates reports whether instruction a dominates instruction b. Within a block,
// position decides; phis in the same block are treated as simultaneous.
func (t *DomTree) InstrDominates(a, b Instruction) bool {
	ba, bb := a.Block(), b.Block()
	if ba == bb {
		return ba.Index(a) < bb.Index(b)
	}
	return t.StrictlyDominates(ba, bb)
}

// ValueDominates reports whether the definition of v dominates instruction at. Values
// without a program point (constants, arguments, globals, functions) dominate
// everything.
func (t *DomTree) ValueDominates(v Value, at Instruction) bool {
	def, ok := v.(Instruction)
	if !ok {
		return true
	}
	if def.Block() == nil {
		return false
	}
	return t.InstrDominates(def, at)
}
