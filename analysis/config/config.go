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
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config carries the options of the safepoint placement pass. All options have default
// values preserving correctness; everything here can be set from a yaml file.
// If some field is not defined in the config file, it keeps its default.
type Config struct {
	sourceFile string

	// VerifyIRLevel controls IR verification granularity:
	// 0 - none
	// 1 - pre/post conditions of the entire pass
	// 2 - also after major transforms internally
	// 3 - various internal points (slow)
	VerifyIRLevel int `yaml:"verify-ir-level"`

	// AllFunctions processes every function, not just the ones carrying the
	// gc-add-*-safepoints attributes. Degenerate base pointers (allocas, globals,
	// undef, manufactured integers) are tolerated in this mode.
	AllFunctions bool `yaml:"all-functions"`

	// AllBackedges ignores opportunities to avoid placing safepoints on backedges of
	// provably finite loops. Useful for validation.
	AllBackedges bool `yaml:"all-backedges"`

	// BaseRewriteOnly stops after confirming base pointers exist, skipping safepoint
	// materialization. Useful for fault isolation.
	BaseRewriteOnly bool `yaml:"base-rewrite-only"`

	// UseVMState includes deoptimization state in safepoints. Defaults to true.
	UseVMState bool `yaml:"use-vm-state"`

	// DataflowLiveness uses a single dataflow liveness pass rather than many
	// reachability queries for computing liveness of values over safepoints.
	DataflowLiveness bool `yaml:"dataflow-liveness"`

	// NoEntry, NoCall and NoBackedge disable the corresponding poll-site selectors.
	NoEntry    bool `yaml:"no-entry"`
	NoCall     bool `yaml:"no-call"`
	NoBackedge bool `yaml:"no-backedge"`

	// Trace prints tracing output through the logger at trace level.
	Trace bool `yaml:"trace"`

	// PrintLiveSet prints the live set found at each insert location. The output is
	// used by several of the test cases.
	PrintLiveSet bool `yaml:"print-liveset"`

	// PrintLiveSetSize prints the size of each live set.
	PrintLiveSetSize bool `yaml:"print-liveset-size"`

	// PrintBasePointers prints the (derived, base) pairs for debugging.
	PrintBasePointers bool `yaml:"print-base-pointers"`

	// BugpointCleanExit converts configuration-induced fatal errors into clean
	// returns so that a crash reducer does not confuse them with real crashes.
	BugpointCleanExit bool `yaml:"bugpoint-clean-exit"`

	// LogLevel controls the verbosity of the pass
	LogLevel int `yaml:"log-level"`
}

// Default returns a config with the default option values.
func Default() *Config {
	return &Config{
		VerifyIRLevel: 1,
		UseVMState:    true,
		LogLevel:      int(InfoLevel),
	}
}

// Load reads a yaml config file and returns the parsed config over the defaults.
func Load(filename string) (*Config, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read config file %q: %w", filename, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("could not parse config file %q: %w", filename, err)
	}
	if cfg.VerifyIRLevel < 0 || cfg.VerifyIRLevel > 3 {
		return nil, fmt.Errorf("verify-ir-level must be in [0,3], got %d", cfg.VerifyIRLevel)
	}
	cfg.sourceFile = filename
	return cfg, nil
}

// SourceFile returns the name of the file this config was loaded from, if any.
func (c *Config) SourceFile() string { return c.sourceFile }

// VMStateRequired reports whether every parse point must have a dominating
// deoptimization-state descriptor.
func (c *Config) VMStateRequired() bool {
	return !c.AllFunctions && c.UseVMState
}
