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

package safepoint

import (
	"fmt"
	"strings"

	"github.com/gc-tools/safepoint/analysis/basepointer"
	"github.com/gc-tools/safepoint/analysis/config"
	"github.com/gc-tools/safepoint/analysis/ir"
	"github.com/gc-tools/safepoint/analysis/liveness"
	"github.com/gc-tools/safepoint/internal/funcutil"
)

type passContext struct {
	cfg    *config.Config
	logger *config.LogGroup
	mod    *ir.Module
}

// PlaceSafepoints runs safepoint placement over every defined function in m. Each
// function is processed independently; the poll implementation function itself is
// never instrumented.
func PlaceSafepoints(cfg *config.Config, logger *config.LogGroup, m *ir.Module) error {
	pc := &passContext{cfg: cfg, logger: logger, mod: m}
	if poll := m.Func(ir.SafepointPollName); poll != nil && requestsPlacement(poll) {
		logger.Warnf("@%s requests safepoint placement on itself; the poll implementation is never instrumented",
			ir.SafepointPollName)
	}
	funcs := funcutil.Filter(m.Funcs, func(f *ir.Function) bool {
		return !f.IsDeclaration() && f.Name() != ir.SafepointPollName
	})
	for _, f := range funcs {
		if err := pc.runOnFunction(f); err != nil {
			if cfg.BugpointCleanExit {
				logger.Errorf("@%s: %s", f.Name(), err)
				return nil
			}
			return fmt.Errorf("@%s: %w", f.Name(), err)
		}
	}
	return nil
}

func (pc *passContext) runOnFunction(f *ir.Function) error {
	f.RemoveUnreachableBlocks()
	if err := CheckNotInstrumented(f); err != nil {
		return err
	}
	if pc.cfg.VerifyIRLevel >= 1 {
		if err := ir.VerifyFunction(f); err != nil {
			return fmt.Errorf("input IR: %w", err)
		}
		if err := ir.VerifyGCRules(f); err != nil {
			return fmt.Errorf("input IR: %w", err)
		}
	}
	preAllocas := countAllocas(f)

	dt := ir.BuildDomTree(f)
	sites, err := pc.selectParsePoints(f, dt)
	if err != nil {
		return err
	}
	if len(sites) == 0 {
		pc.logger.Debugf("@%s: no parse points selected", f.Name())
		return nil
	}
	pc.logger.Infof("@%s: %d parse points", f.Name(), len(sites))

	// Poll inlining may have reshaped the CFG; everything downstream needs fresh
	// dominance.
	dt = ir.BuildDomTree(f)
	li := liveness.NewInfo(f, dt)

	records := make([]*parsePoint, 0, len(sites))
	for _, site := range sites {
		records = append(records, &parsePoint{
			site: site,
			live: li.LiveBefore(pc.cfg, pc.logger, site),
		})
	}

	resolver := basepointer.NewResolver(pc.cfg, pc.logger, dt, basepointer.NewCache())
	for _, rec := range records {
		pairs, err := resolver.FindBasePairs(rec.live)
		if err != nil {
			return err
		}
		rec.bases = pairs
		pc.reportLiveSet(rec)
	}
	if pc.cfg.BaseRewriteOnly {
		return nil
	}

	// Base inference may have introduced new phis, selects and casts; those must be
	// visible to liveness before the live vectors are final. Holder calls pin each
	// record's bases across its own safepoint during the recomputation.
	pc.insertHolders(records)
	if len(resolver.NewDefs) > 0 {
		if err := pc.fixupLiveness(f, records, resolver); err != nil {
			return err
		}
	}
	pc.removeHolders(records)

	dt = ir.BuildDomTree(f)
	for i, rec := range records {
		if err := pc.materialize(rec, dt); err != nil {
			return err
		}
		// When the site's value was replaced by a result read, later records may
		// still carry the original call in their live vectors.
		if rec.result != nil {
			for _, later := range records[i+1:] {
				replaceInRecord(later, rec.site, rec.result)
			}
		}
		if _, ok := rec.site.(*ir.Invoke); ok {
			dt = ir.BuildDomTree(f)
		}
	}

	if err := pc.relocationViaAlloca(f, records, preAllocas); err != nil {
		return err
	}
	if pc.cfg.VerifyIRLevel >= 1 {
		if err := ir.VerifyFunction(f); err != nil {
			return fmt.Errorf("output IR: %w", err)
		}
	}
	return nil
}

// insertHolders adds a variadic holder call after each parse point carrying the
// record's base pointers, so they count as used past the safepoint.
func (pc *passContext) insertHolders(records []*parsePoint) {
	holderFn := pc.mod.GetOrInsertFunction(ir.HolderName, ir.VariadicFuncOf(ir.Void))
	for _, rec := range records {
		var bases []ir.Value
		for _, d := range rec.live {
			if b := rec.bases[d]; !funcutil.Contains(bases, b) {
				bases = append(bases, b)
			}
		}
		h := ir.NewCall("", holderFn, bases...)
		switch site := rec.site.(type) {
		case *ir.Invoke:
			nd := site.NormalDest
			nd.InsertAt(h, nd.FirstNonPhi())
		default:
			site.Block().InsertAfter(h, site)
		}
		rec.holder = h
	}
}

func (pc *passContext) removeHolders(records []*parsePoint) {
	for _, rec := range records {
		rec.holder.Block().Remove(rec.holder)
		rec.holder = nil
	}
}

// fixupLiveness recomputes liveness with the synthesized base definitions in place and
// folds newly live synthesized values into each record. Only values created by base
// inference may join here; anything else joining the live set would indicate the
// original computation was wrong.
func (pc *passContext) fixupLiveness(f *ir.Function, records []*parsePoint, resolver *basepointer.Resolver) error {
	isNew := map[ir.Value]bool{}
	for _, in := range resolver.NewDefs {
		isNew[in] = true
	}
	dt := ir.BuildDomTree(f)
	li := liveness.NewInfo(f, dt)
	for _, rec := range records {
		old := map[ir.Value]bool{}
		for _, v := range rec.live {
			old[v] = true
		}
		for _, v := range li.LiveBefore(pc.cfg, pc.logger, rec.site) {
			if old[v] || !isNew[v] {
				continue
			}
			b, err := resolver.BaseFor(v)
			if err != nil {
				return err
			}
			rec.live = append(rec.live, v)
			rec.bases[v] = b
			pc.logger.Debugf("synthesized value %s joins the live set at %s",
				v.Name(), siteName(rec.site))
		}
	}
	return nil
}

func replaceInRecord(rec *parsePoint, old, new ir.Value) {
	for i, v := range rec.live {
		if v == old {
			rec.live[i] = new
		}
	}
	if b, ok := rec.bases[old]; ok {
		delete(rec.bases, old)
		if b == old {
			b = new
		}
		rec.bases[new] = b
	}
	for d, b := range rec.bases {
		if b == old {
			rec.bases[d] = new
		}
	}
}

func siteName(site ir.Instruction) string {
	if site.Name() != "" {
		return "%" + site.Name()
	}
	return site.String()
}

func (pc *passContext) reportLiveSet(rec *parsePoint) {
	if pc.cfg.PrintLiveSetSize {
		pc.logger.Infof("live set at %s: %d values", siteName(rec.site), len(rec.live))
	}
	if pc.cfg.PrintLiveSet {
		names := funcutil.Map(rec.live, func(v ir.Value) string { return "%" + v.Name() })
		pc.logger.Infof("live at %s: %s", siteName(rec.site), strings.Join(names, " "))
	}
	if pc.cfg.PrintBasePointers {
		pairs := funcutil.Map(rec.live, func(d ir.Value) string {
			return fmt.Sprintf("%%%s->%%%s", d.Name(), rec.bases[d].Name())
		})
		pc.logger.Infof("bases at %s: %s", siteName(rec.site), strings.Join(pairs, " "))
	}
}
