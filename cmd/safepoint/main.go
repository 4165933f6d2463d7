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

// safepoint: rewrite textual IR so every function can be interrupted by the garbage
// collector at entry, backedge and call safepoints.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gc-tools/safepoint/analysis/config"
	"github.com/gc-tools/safepoint/analysis/ir"
	"github.com/gc-tools/safepoint/analysis/safepoint"
	"golang.org/x/term"
)

// flags
var (
	configPath  = ""
	outPath     = ""
	logLevel    = -1
	baseRewrite = false
	allFuncs    = false
)

func init() {
	flag.StringVar(&configPath, "config", "", "path to a yaml config file")
	flag.StringVar(&outPath, "o", "", "write the rewritten module here instead of stdout")
	flag.IntVar(&logLevel, "log-level", -1, "override the config log level")
	flag.BoolVar(&baseRewrite, "base-rewrite-only", false, "stop after base pointer rewriting")
	flag.BoolVar(&allFuncs, "all-functions", false, "relax frontend-only invariants")
}

const usage = `Place garbage collection safepoints in a module.

Usage:
  safepoint [options] module.sexp

Use the -help flag to display the options.
`

func main() {
	if err := doMain(); err != nil {
		fmt.Fprintf(os.Stderr, "safepoint: %s\n", err)
		os.Exit(1)
	}
}

func doMain() error {
	flag.Parse()
	if len(flag.Args()) != 1 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if logLevel >= 0 {
		cfg.LogLevel = logLevel
	}
	if baseRewrite {
		cfg.BaseRewriteOnly = true
	}
	if allFuncs {
		cfg.AllFunctions = true
	}
	logger := config.NewLogGroup(cfg)

	input, err := os.Open(flag.Args()[0])
	if err != nil {
		return err
	}
	defer input.Close()
	mod, err := ir.ParseModule(input)
	if err != nil {
		return err
	}

	if err := safepoint.PlaceSafepoints(cfg, logger, mod); err != nil {
		return err
	}

	out := os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	ir.WriteModule(out, mod)
	report(fmt.Sprintf("safepoint: rewrote module %s", mod.Name))
	return nil
}

// report prints a status line to stderr, in green when stderr is a terminal.
func report(msg string) {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		fmt.Fprintf(os.Stderr, "\033[32m%s\033[0m\n", msg)
		return
	}
	fmt.Fprintln(os.Stderr, msg)
}
