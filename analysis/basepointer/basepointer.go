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

// Package basepointer finds, for every live derived GC pointer, a value that holds the
// base of the containing object and dominates the derived pointer. Straight-line
// derivations (casts, indexing) strip down to a defining value directly. Merge nodes
// (phis and selects) run through an optimistic three-state fixpoint; nodes whose inputs
// carry distinct bases get a parallel merge node synthesized alongside them, tagged so
// later queries recognize it as a base.
package basepointer

import (
	"fmt"

	"github.com/gc-tools/safepoint/analysis/config"
	"github.com/gc-tools/safepoint/analysis/ir"
)

// Cache holds the BDV and proven-base relations for one pass over a function's parse
// points. It must not outlive the function: entries reference instructions that later
// phases delete.
type Cache struct {
	bdv  map[ir.Value]ir.Value
	base map[ir.Value]ir.Value
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{bdv: map[ir.Value]ir.Value{}, base: map[ir.Value]ir.Value{}}
}

// setBase installs a proven base. Re-resolution must agree with what the cache already
// holds; a disagreement means a stale entry survived an IR mutation.
func (c *Cache) setBase(v, b ir.Value) {
	if old, ok := c.base[v]; ok && old != b {
		panic(fmt.Sprintf("base cache instability: %s resolved to %s, cached %s", v, b, old))
	}
	c.base[v] = b
}

// Resolver runs base inference for one function.
type Resolver struct {
	cfg    *config.Config
	logger *config.LogGroup
	dt     *ir.DomTree
	cache  *Cache

	// NewDefs accumulates every value synthesized by inference: base phis, base
	// selects, and the casts wired into them. Liveness must account for these.
	NewDefs []ir.Instruction
}

// NewResolver returns a resolver sharing cache across all parse points of one function.
func NewResolver(cfg *config.Config, logger *config.LogGroup, dt *ir.DomTree, cache *Cache) *Resolver {
	return &Resolver{cfg: cfg, logger: logger, dt: dt, cache: cache}
}

// IsKnownBase reports whether v is proven to be a base pointer: anything but a merge
// node, or a merge node this pass synthesized.
func IsKnownBase(v ir.Value) bool {
	switch n := v.(type) {
	case *ir.Phi:
		return n.Metadata(ir.MDBaseValue)
	case *ir.Select:
		return n.Metadata(ir.MDBaseValue)
	}
	return true
}

// BaseDefiningValue classifies v: strip casts and indexing down to the value that
// defines the containing object, or to a merge node that blocks simple propagation.
//
//gocyclo:ignore
func (r *Resolver) BaseDefiningValue(v ir.Value) (ir.Value, error) {
	if b, ok := r.cache.bdv[v]; ok {
		return b, nil
	}
	b, err := r.classify(v)
	if err != nil {
		return nil, err
	}
	r.cache.bdv[v] = b
	r.logger.Tracef("bdv(%s) = %s", v, b)
	return b, nil
}

func (r *Resolver) classify(v ir.Value) (ir.Value, error) {
	switch val := v.(type) {
	case *ir.Argument:
		// Formal parameters hold base pointers by calling convention.
		return v, nil
	case *ir.Global:
		return v, nil
	case *ir.Const:
		switch val.Kind {
		case ir.ConstNull, ir.ConstUndef:
			if r.cfg.AllFunctions {
				return v, nil
			}
			return nil, fmt.Errorf("%w: %s", ErrDegenerate, v)
		default:
			return nil, fmt.Errorf("%w: %s", ErrConstantPointer, v)
		}
	case ir.Instruction:
		return r.classifyInstr(val)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnhandledShape, v)
}

func (r *Resolver) classifyInstr(in ir.Instruction) (ir.Value, error) {
	switch val := in.(type) {
	case *ir.Load, *ir.Call, *ir.Invoke, *ir.ExtractValue, *ir.AtomicXchg, *ir.AtomicCmpXchg:
		// The loaded or returned object reference is itself a base.
		return in, nil
	case *ir.Alloca:
		if r.cfg.AllFunctions {
			return in, nil
		}
		return nil, fmt.Errorf("%w: alloca %%%s", ErrDegenerate, in.Name())
	case *ir.BitCast:
		return r.BaseDefiningValue(val.X)
	case *ir.GetElementPtr:
		return r.BaseDefiningValue(val.X)
	case *ir.IntToPtr:
		if in.Metadata(ir.MDVerifierException) {
			return in, nil
		}
		return nil, fmt.Errorf("%w: %%%s", ErrIntToPtr, in.Name())
	case *ir.Phi, *ir.Select:
		return in, nil
	}
	return nil, fmt.Errorf("%w: %T %%%s", ErrUnhandledShape, in, in.Name())
}

// BaseFor returns a known base for d, synthesizing merge nodes if needed.
func (r *Resolver) BaseFor(d ir.Value) (ir.Value, error) {
	bdv, err := r.BaseDefiningValue(d)
	if err != nil {
		return nil, err
	}
	if IsKnownBase(bdv) {
		return bdv, nil
	}
	if b, ok := r.cache.base[bdv]; ok {
		return b, nil
	}
	if err := r.resolveMerges(bdv); err != nil {
		return nil, err
	}
	return r.cache.base[bdv], nil
}

// FindBasePairs resolves every value of live. The returned map has exactly one entry
// per live value.
func (r *Resolver) FindBasePairs(live []ir.Value) (map[ir.Value]ir.Value, error) {
	pairs := make(map[ir.Value]ir.Value, len(live))
	for _, d := range live {
		b, err := r.BaseFor(d)
		if err != nil {
			return nil, err
		}
		pairs[d] = b
	}
	return pairs, nil
}

// mergeInputs returns the operand values a merge node combines.
func mergeInputs(v ir.Value) []ir.Value {
	switch n := v.(type) {
	case *ir.Phi:
		vals := make([]ir.Value, len(n.Incoming))
		for i, inc := range n.Incoming {
			vals[i] = inc.Value
		}
		return vals
	case *ir.Select:
		return []ir.Value{n.True, n.False}
	}
	panic(fmt.Sprintf("mergeInputs on non-merge value %s", v))
}

// resolveMerges runs the optimistic fixpoint for the working set reachable from seed
// and installs proven bases for every member.
func (r *Resolver) resolveMerges(seed ir.Value) error {
	// Discover the working set: merge nodes reachable from the seed through BDV
	// queries on their inputs.
	states := map[ir.Value]PhiState{seed: unknownState()}
	order := []ir.Value{seed}
	for scan := 0; scan < len(order); scan++ {
		for _, in := range mergeInputs(order[scan]) {
			bdv, err := r.BaseDefiningValue(in)
			if err != nil {
				return err
			}
			if IsKnownBase(bdv) {
				continue
			}
			if _, seen := states[bdv]; !seen {
				states[bdv] = unknownState()
				order = append(order, bdv)
			}
		}
	}

	inputState := func(in ir.Value) (PhiState, error) {
		bdv, err := r.BaseDefiningValue(in)
		if err != nil {
			return PhiState{}, err
		}
		if IsKnownBase(bdv) {
			return baseState(bdv), nil
		}
		return states[bdv], nil
	}

	for changed := true; changed; {
		changed = false
		for _, v := range order {
			st := unknownState()
			for _, in := range mergeInputs(v) {
				is, err := inputState(in)
				if err != nil {
					return err
				}
				st = Meet(st, is)
			}
			if !st.Equal(states[v]) {
				states[v] = st
				changed = true
			}
		}
	}
	for _, v := range order {
		r.logger.Tracef("base state of %s: %s", v, states[v])
		if states[v].Kind == StateUnknown {
			return fmt.Errorf("base inference left %s unresolved", v)
		}
	}

	synth := r.synthesize(order, states)
	if err := r.wire(order, states, synth); err != nil {
		return err
	}

	for _, v := range order {
		if states[v].Kind == StateBase {
			r.cache.setBase(v, states[v].Base())
		} else {
			r.cache.setBase(v, synth[v])
		}
	}
	for _, nb := range synth {
		r.cache.setBase(nb, nb)
	}
	return nil
}

// synthesize creates an empty parallel merge node for every Conflict member, at the
// same program point as the original. Operands are wired afterwards so the new nodes
// can reference each other.
func (r *Resolver) synthesize(order []ir.Value, states map[ir.Value]PhiState) map[ir.Value]ir.Value {
	synth := map[ir.Value]ir.Value{}
	for _, v := range order {
		if states[v].Kind != StateConflict {
			continue
		}
		switch n := v.(type) {
		case *ir.Phi:
			nb := ir.NewPhi(n.Name()+".base", n.Type())
			nb.SetMetadata(ir.MDBaseValue)
			n.Block().InsertBefore(nb, n)
			synth[v] = nb
			r.NewDefs = append(r.NewDefs, nb)
		case *ir.Select:
			nb := ir.NewSelect(n.Name()+".base", n.Cond,
				ir.NewUndef(n.Type()), ir.NewUndef(n.Type()))
			nb.SetMetadata(ir.MDBaseValue)
			n.Block().InsertBefore(nb, n)
			synth[v] = nb
			r.NewDefs = append(r.NewDefs, nb)
		}
		r.logger.Debugf("synthesized base merge %s for %s", synth[v], v)
	}
	return synth
}

// wire fills the operand slots of the synthesized nodes. Each slot receives the base
// of the corresponding original input, cast to the node's type at the supplying edge
// when representations differ.
func (r *Resolver) wire(order []ir.Value, states map[ir.Value]PhiState,
	synth map[ir.Value]ir.Value) error {

	baseOf := func(in ir.Value) (ir.Value, error) {
		bdv, err := r.BaseDefiningValue(in)
		if err != nil {
			return nil, err
		}
		if IsKnownBase(bdv) {
			return bdv, nil
		}
		if states[bdv].Kind == StateBase {
			return states[bdv].Base(), nil
		}
		return synth[bdv], nil
	}

	for _, v := range order {
		if states[v].Kind != StateConflict {
			continue
		}
		switch n := v.(type) {
		case *ir.Phi:
			nb := synth[v].(*ir.Phi)
			for _, inc := range n.Incoming {
				b, err := baseOf(inc.Value)
				if err != nil {
					return err
				}
				b = r.castIfNeeded(b, nb.Type(), inc.Block.Terminator())
				nb.AddIncoming(b, inc.Block)
			}
		case *ir.Select:
			nb := synth[v].(*ir.Select)
			tb, err := baseOf(n.True)
			if err != nil {
				return err
			}
			fb, err := baseOf(n.False)
			if err != nil {
				return err
			}
			ir.SetOperand(nb, 1, r.castIfNeeded(tb, nb.Type(), nb))
			ir.SetOperand(nb, 2, r.castIfNeeded(fb, nb.Type(), nb))
		}
	}
	return nil
}

// castIfNeeded returns b, or a bitcast of b to typ inserted immediately before at.
func (r *Resolver) castIfNeeded(b ir.Value, typ ir.Type, at ir.Instruction) ir.Value {
	if ir.TypesEqual(b.Type(), typ) {
		return b
	}
	cast := ir.NewBitCast(b.Name()+".cast", b, typ)
	at.Block().InsertBefore(cast, at)
	r.NewDefs = append(r.NewDefs, cast)
	return cast
}
