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
	"fmt"
	"io"
	"strings"

	"golang.org/x/exp/slices"
)

// WriteModule prints m in the textual form accepted by [ParseModule].
func WriteModule(w io.Writer, m *Module) {
	fmt.Fprintf(w, "(module %s\n", m.Name)
	for _, g := range m.Globals {
		fmt.Fprintf(w, "  (global @%s %s)\n", g.Name(), g.Elem())
	}
	for _, f := range m.Funcs {
		if f.IsDeclaration() {
			fmt.Fprintf(w, "  (declare @%s %s%s)\n", f.Name(), f.Sig(), attrString(f.Attrs))
		}
	}
	for _, f := range m.Funcs {
		if !f.IsDeclaration() {
			writeFunction(w, f)
		}
	}
	fmt.Fprintf(w, ")\n")
}

// String renders the module in its textual form.
func (m *Module) String() string {
	var sb strings.Builder
	WriteModule(&sb, m)
	return sb.String()
}

func writeFunction(w io.Writer, f *Function) {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = fmt.Sprintf("(%%%s %s)", p.Name(), p.Type())
	}
	fmt.Fprintf(w, "  (func @%s %s (%s)%s\n",
		f.Name(), f.Sig().Ret, strings.Join(params, " "), attrString(f.Attrs))
	for _, b := range f.Blocks {
		fmt.Fprintf(w, "    (block %s\n", b.Name())
		for _, in := range b.Instrs {
			fmt.Fprintf(w, "      %s\n", FormatInstr(in))
		}
		fmt.Fprintf(w, "    )\n")
	}
	fmt.Fprintf(w, "  )\n")
}

func attrString(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		if attrs[k] == "" {
			parts[i] = fmt.Sprintf("(%s)", k)
		} else {
			parts[i] = fmt.Sprintf("(%s %s)", k, attrs[k])
		}
	}
	return fmt.Sprintf(" (attrs %s)", strings.Join(parts, " "))
}

// FormatValue renders a value reference as an operand.
func FormatValue(v Value) string {
	switch v := v.(type) {
	case *Const:
		switch v.Kind {
		case ConstNull:
			return fmt.Sprintf("(null %s)", v.Type())
		case ConstUndef:
			return fmt.Sprintf("(undef %s)", v.Type())
		default:
			return fmt.Sprintf("(%s %d)", v.Type(), v.IntVal)
		}
	case *Global, *Function:
		return v.String()
	default:
		return v.String()
	}
}

func formatValues(vs []Value) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = FormatValue(v)
	}
	return strings.Join(parts, " ")
}

// FormatInstr renders a single instruction in the textual form accepted by the parser.
func FormatInstr(in Instruction) string {
	body := instrBody(in)
	if in.Metadata(MDBaseValue) {
		body += " !" + MDBaseValue
	}
	if in.Metadata(MDVerifierException) {
		body += " !" + MDVerifierException
	}
	if _, isVoid := in.Type().(*VoidType); isVoid {
		return fmt.Sprintf("(%s)", body)
	}
	return fmt.Sprintf("(%%%s = %s)", in.Name(), body)
}

//gocyclo:ignore
func instrBody(in Instruction) string {
	switch in := in.(type) {
	case *Alloca:
		return fmt.Sprintf("alloca %s", in.Elem)
	case *Load:
		return fmt.Sprintf("load %s", FormatValue(in.X))
	case *Store:
		if in.Volatile {
			return fmt.Sprintf("store volatile %s %s", FormatValue(in.Val), FormatValue(in.Addr))
		}
		return fmt.Sprintf("store %s %s", FormatValue(in.Val), FormatValue(in.Addr))
	case *GetElementPtr:
		return strings.TrimRight(fmt.Sprintf("gep %s %s", FormatValue(in.X), formatValues(in.Indices)), " ")
	case *BitCast:
		return fmt.Sprintf("bitcast %s %s", FormatValue(in.X), in.Type())
	case *IntToPtr:
		return fmt.Sprintf("inttoptr %s %s", FormatValue(in.X), in.Type())
	case *PtrToInt:
		return fmt.Sprintf("ptrtoint %s %s", FormatValue(in.X), in.Type())
	case *ICmp:
		return fmt.Sprintf("icmp %s %s %s", in.Pred, FormatValue(in.X), FormatValue(in.Y))
	case *BinOp:
		return fmt.Sprintf("%s %s %s", in.Op, FormatValue(in.X), FormatValue(in.Y))
	case *Phi:
		parts := make([]string, len(in.Incoming))
		for i, inc := range in.Incoming {
			parts[i] = fmt.Sprintf("(%s %s)", FormatValue(inc.Value), inc.Block.Name())
		}
		return strings.TrimRight(fmt.Sprintf("phi %s %s", in.Type(), strings.Join(parts, " ")), " ")
	case *Select:
		return fmt.Sprintf("select %s %s %s",
			FormatValue(in.Cond), FormatValue(in.True), FormatValue(in.False))
	case *Call:
		s := "call"
		if in.CallConv == CallConvCold {
			s += " cold"
		}
		s += " " + FormatValue(in.Callee)
		if len(in.Args) > 0 {
			s += " " + formatValues(in.Args)
		}
		return s
	case *Invoke:
		return fmt.Sprintf("invoke %s (%s) %s %s",
			FormatValue(in.Callee), formatValues(in.Args),
			in.NormalDest.Name(), in.UnwindDest.Name())
	case *ExtractValue:
		return fmt.Sprintf("extractvalue %s %d", FormatValue(in.Agg), in.Index)
	case *AtomicXchg:
		return fmt.Sprintf("atomicxchg %s %s", FormatValue(in.Addr), FormatValue(in.Val))
	case *AtomicCmpXchg:
		return fmt.Sprintf("atomiccmpxchg %s %s %s",
			FormatValue(in.Addr), FormatValue(in.Old), FormatValue(in.New))
	case *Br:
		return fmt.Sprintf("br %s", in.Dest.Name())
	case *CondBr:
		return fmt.Sprintf("condbr %s %s %s", FormatValue(in.Cond), in.Then.Name(), in.Else.Name())
	case *IndirectBr:
		names := make([]string, len(in.Dests))
		for i, d := range in.Dests {
			names[i] = d.Name()
		}
		return fmt.Sprintf("indirectbr %s %s", FormatValue(in.Addr), strings.Join(names, " "))
	case *Ret:
		if in.X == nil {
			return "ret"
		}
		return fmt.Sprintf("ret %s", FormatValue(in.X))
	case *Unreachable:
		return "unreachable"
	}
	panic(fmt.Sprintf("unhandled instruction kind %T", in))
}
