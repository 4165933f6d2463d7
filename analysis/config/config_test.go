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

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.VerifyIRLevel != 1 {
		t.Errorf("default verify-ir-level = %d, want 1", cfg.VerifyIRLevel)
	}
	if !cfg.UseVMState {
		t.Errorf("VM state should be on by default")
	}
	if cfg.AllFunctions || cfg.BaseRewriteOnly || cfg.DataflowLiveness {
		t.Errorf("mode flags should default to off")
	}
	if !cfg.VMStateRequired() {
		t.Errorf("default config should require VM state")
	}
}

func TestLoad(t *testing.T) {
	p := writeConfig(t, `
verify-ir-level: 2
all-functions: true
dataflow-liveness: true
print-liveset: true
log-level: 4
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %s", err)
	}
	if cfg.VerifyIRLevel != 2 || !cfg.AllFunctions || !cfg.DataflowLiveness || !cfg.PrintLiveSet {
		t.Errorf("loaded config does not reflect the file: %+v", cfg)
	}
	// Fields absent from the file keep their defaults.
	if !cfg.UseVMState {
		t.Errorf("use-vm-state default lost on load")
	}
	if cfg.SourceFile() != p {
		t.Errorf("source file = %q, want %q", cfg.SourceFile(), p)
	}
	// all-functions overrides the VM state requirement.
	if cfg.VMStateRequired() {
		t.Errorf("relaxed mode must not require VM state")
	}
}

func TestLoadRejectsBadLevel(t *testing.T) {
	p := writeConfig(t, "verify-ir-level: 9\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected out-of-range verify-ir-level to be rejected")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestLogGroupLevels(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = int(WarnLevel)
	l := NewLogGroup(cfg)
	if l.Level() != WarnLevel {
		t.Errorf("log group level = %v, want warn", l.Level())
	}
}
