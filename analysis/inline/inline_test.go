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

package inline

import (
	"errors"
	"testing"

	"github.com/gc-tools/safepoint/analysis/ir"
)

func mustParse(t *testing.T, src string) *ir.Module {
	t.Helper()
	m, err := ir.ParseModuleString(src)
	if err != nil {
		t.Fatalf("parse failed: %s", err)
	}
	return m
}

const pollModule = `
(module poll
  (declare @do_safepoint (fn void ()))
  (func @gc.safepoint_poll void ()
    (block entry
      (call @do_safepoint)
      (ret)))
  (func @host i64 ((%x i64))
    (block entry
      (%a = add %x (i64 1))
      (%b = add %a (i64 1))
      (ret %b))))
`

func TestBodyMidBlock(t *testing.T) {
	m := mustParse(t, pollModule)
	host := m.Func("host")
	poll := m.Func("gc.safepoint_poll")
	at := host.Entry().Instrs[1] // the second add

	created, err := Body(poll, at, 0)
	if err != nil {
		t.Fatalf("Body: %s", err)
	}
	if len(created) != 2 {
		t.Fatalf("created %d instructions, want call+br", len(created))
	}
	call, ok := created[0].(*ir.Call)
	if !ok || ir.CalleeName(call.Callee) != "do_safepoint" {
		t.Fatalf("first created instruction = %v, want the runtime call", created[0])
	}
	// The call must sit on the path from the first add to the second.
	if err := ir.VerifyFunction(host); err != nil {
		t.Fatalf("host broken after inlining: %s", err)
	}
	if at.Block() == host.Entry() {
		t.Errorf("continuation was not split out of the entry block")
	}
	if call.Block().Parent() != host {
		t.Errorf("inlined call not attached to the host function")
	}
}

func TestBodyBeforeTerminator(t *testing.T) {
	m := mustParse(t, pollModule)
	host := m.Func("host")
	poll := m.Func("gc.safepoint_poll")
	at := host.Entry().Terminator()

	if _, err := Body(poll, at, 0); err != nil {
		t.Fatalf("Body at terminator: %s", err)
	}
	if err := ir.VerifyFunction(host); err != nil {
		t.Fatalf("host broken after inlining: %s", err)
	}
}

func TestBodyAtBlockHead(t *testing.T) {
	m := mustParse(t, pollModule)
	host := m.Func("host")
	poll := m.Func("gc.safepoint_poll")
	entry := host.Entry()
	at := entry.Instrs[0]

	if _, err := Body(poll, at, 0); err != nil {
		t.Fatalf("Body at block head: %s", err)
	}
	// The entry block must stay first in layout.
	if host.Entry() == entry {
		t.Errorf("expected a fresh entry block in front of the original")
	}
	if len(host.Entry().Preds()) != 0 {
		t.Errorf("new entry block has predecessors")
	}
	if err := ir.VerifyFunction(host); err != nil {
		t.Fatalf("host broken after inlining: %s", err)
	}
}

func TestBodyRejectsDeclaration(t *testing.T) {
	m := mustParse(t, `
(module d
  (declare @decl (fn void ()))
  (func @host void ()
    (block entry
      (ret))))
`)
	_, err := Body(m.Func("decl"), m.Func("host").Entry().Terminator(), 0)
	if !errors.Is(err, ErrMissingBody) {
		t.Fatalf("got %v, want ErrMissingBody", err)
	}
}

func TestBodyRejectsNoExit(t *testing.T) {
	m := mustParse(t, `
(module noexit
  (func @spin void ()
    (block entry
      (br entry)))
  (func @host void ()
    (block entry
      (ret))))
`)
	_, err := Body(m.Func("spin"), m.Func("host").Entry().Terminator(), 0)
	if !errors.Is(err, ErrNoNormalExit) {
		t.Fatalf("got %v, want ErrNoNormalExit", err)
	}
}

func TestBodyRejectsAlloca(t *testing.T) {
	m := mustParse(t, `
(module al
  (func @body void ()
    (block entry
      (%s = alloca i64)
      (ret)))
  (func @host void ()
    (block entry
      (ret))))
`)
	_, err := Body(m.Func("body"), m.Func("host").Entry().Terminator(), 0)
	if !errors.Is(err, ErrUnsupportedBody) {
		t.Fatalf("got %v, want ErrUnsupportedBody", err)
	}
}

func TestBodyClonesBranchyPoll(t *testing.T) {
	m := mustParse(t, `
(module branchy
  (global @flag i1)
  (declare @do_safepoint (fn void ()))
  (func @gc.safepoint_poll void ()
    (block entry
      (%f = load @flag)
      (condbr %f do skip))
    (block do
      (call @do_safepoint)
      (br skip))
    (block skip
      (ret)))
  (func @host i64 ((%x i64))
    (block entry
      (%a = add %x (i64 1))
      (ret %a))))
`)
	host := m.Func("host")
	at := host.Entry().Terminator()
	created, err := Body(m.Func("gc.safepoint_poll"), at, 0)
	if err != nil {
		t.Fatalf("Body: %s", err)
	}
	if err := ir.VerifyFunction(host); err != nil {
		t.Fatalf("host broken after inlining: %s", err)
	}
	found := false
	for _, in := range created {
		if c, ok := in.(*ir.Call); ok && ir.CalleeName(c.Callee) == "do_safepoint" {
			found = true
			if c.Block().Parent() != host {
				t.Errorf("cloned call attached to the wrong function")
			}
		}
	}
	if !found {
		t.Errorf("conditional poll call not cloned")
	}
}
