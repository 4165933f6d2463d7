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

package loops

import "github.com/gc-tools/safepoint/analysis/ir"

// TripCount recognizes the canonical counted loop shape at a latch:
//
//	header: iv = phi [init, preheader] [next, latch]
//	...
//	next = add iv, step          (or: next = sub iv, step)
//	latch: condbr (icmp pred X bound) header exit
//
// with init, step and bound integer constants and X either iv or next. It returns the
// number of times the backedge is taken. ok is false whenever the shape does not match
// or the bounds do not guarantee termination.
func TripCount(l *Loop, latch *ir.BasicBlock) (count int64, ok bool) {
	cb, okT := latch.Terminator().(*ir.CondBr)
	if !okT || cb.Then == cb.Else {
		return 0, false
	}
	cmp, okC := cb.Cond.(*ir.ICmp)
	if !okC {
		return 0, false
	}
	pred := cmp.Pred
	x, bound := cmp.X, cmp.Y
	// Normalize so the backedge is taken while the comparison holds.
	if cb.Else == l.Header {
		var negOK bool
		pred, negOK = negatePred(pred)
		if !negOK {
			return 0, false
		}
	} else if cb.Then != l.Header {
		return 0, false
	}
	boundC, okB := constInt(bound)
	if !okB {
		return 0, false
	}
	iv, init, step, okIV := inductionVar(l, latch, x)
	if !okIV {
		return 0, false
	}
	// When the comparison tests the post-increment value, the first compared value is
	// init+step rather than init.
	if x != iv {
		init += step
	}
	return countIterations(pred, init, step, boundC)
}

// MustBeFiniteCountedLoop reports whether the backedge through latch provably executes
// a bounded, positive number of times.
func MustBeFiniteCountedLoop(l *Loop, latch *ir.BasicBlock) bool {
	n, ok := TripCount(l, latch)
	return ok && n > 0
}

func negatePred(pred string) (string, bool) {
	switch pred {
	case "eq":
		return "ne", true
	case "ne":
		return "eq", true
	case "slt":
		return "sge", true
	case "sge":
		return "slt", true
	case "sle":
		return "sgt", true
	case "sgt":
		return "sle", true
	case "ult":
		return "uge", true
	case "uge":
		return "ult", true
	case "ule":
		return "ugt", true
	case "ugt":
		return "ule", true
	}
	return "", false
}

func constInt(v ir.Value) (int64, bool) {
	c, ok := v.(*ir.Const)
	if !ok || c.Kind != ir.ConstInt {
		return 0, false
	}
	return c.IntVal, true
}

// inductionVar matches x (or its pre-increment phi) against the canonical induction
// variable of the loop and returns the phi, its constant initial value, and the signed
// constant step per iteration.
func inductionVar(l *Loop, latch *ir.BasicBlock, x ir.Value) (phi *ir.Phi, init, step int64, ok bool) {
	var next *ir.BinOp
	switch v := x.(type) {
	case *ir.Phi:
		phi = v
	case *ir.BinOp:
		next = v
		p, okP := firstPhiOperand(v)
		if !okP {
			return nil, 0, 0, false
		}
		phi = p
	default:
		return nil, 0, 0, false
	}
	if phi.Block() != l.Header || len(phi.Incoming) != 2 {
		return nil, 0, 0, false
	}
	latchIn := phi.IncomingFor(latch)
	if latchIn == nil {
		return nil, 0, 0, false
	}
	var initV ir.Value
	for _, inc := range phi.Incoming {
		if inc.Block != latch {
			initV = inc.Value
		}
	}
	init, okI := constInt(initV)
	if !okI {
		return nil, 0, 0, false
	}
	if next == nil {
		n, okN := latchIn.(*ir.BinOp)
		if !okN {
			return nil, 0, 0, false
		}
		next = n
	} else if latchIn != next {
		return nil, 0, 0, false
	}
	step, okS := stepOf(next, phi)
	if !okS {
		return nil, 0, 0, false
	}
	return phi, init, step, true
}

func firstPhiOperand(b *ir.BinOp) (*ir.Phi, bool) {
	if p, ok := b.X.(*ir.Phi); ok {
		return p, true
	}
	if p, ok := b.Y.(*ir.Phi); ok {
		return p, true
	}
	return nil, false
}

func stepOf(next *ir.BinOp, iv *ir.Phi) (int64, bool) {
	switch next.Op {
	case "add":
		if next.X == ir.Value(iv) {
			c, ok := constInt(next.Y)
			return c, ok
		}
		if next.Y == ir.Value(iv) {
			c, ok := constInt(next.X)
			return c, ok
		}
	case "sub":
		if next.X == ir.Value(iv) {
			c, ok := constInt(next.Y)
			return -c, ok
		}
	}
	return 0, false
}

// countIterations evaluates the normalized "continue while iv pred bound" condition by
// direct iteration over the constant recurrence, capped to keep pathological inputs
// cheap. Anything past the cap is treated as not provably finite.
func countIterations(pred string, init, step, bound int64) (int64, bool) {
	if step == 0 {
		return 0, false
	}
	const maxIters = 1 << 20
	holds := func(v int64) bool {
		switch pred {
		case "slt":
			return v < bound
		case "sle":
			return v <= bound
		case "sgt":
			return v > bound
		case "sge":
			return v >= bound
		case "ult":
			return uint64(v) < uint64(bound)
		case "ule":
			return uint64(v) <= uint64(bound)
		case "ugt":
			return uint64(v) > uint64(bound)
		case "uge":
			return uint64(v) >= uint64(bound)
		case "ne":
			return v != bound
		case "eq":
			return v == bound
		}
		return false
	}
	var n int64
	for v := init; holds(v); v += step {
		n++
		if n > maxIters {
			return 0, false
		}
	}
	return n, true
}
