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
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
)

// The textual module format is an S-expression:
//
//	(module NAME
//	  (global @g TYPE)
//	  (declare @f (fn RET (PARAMTYPES...) [variadic]) [(attrs (k [v])...)])
//	  (func @f RET ((%p TYPE)...) [(attrs ...)]
//	    (block NAME
//	      (%x = OP ...)
//	      (OP ...)
//	      ...)
//	    ...))
//
// Operands are %locals, @globals, or constants written (i64 5), (null TYPE),
// (undef TYPE). Within a function body, definitions must appear textually before their
// non-phi uses; phi incoming values may reference definitions that appear later.

type sexpKind int

const (
	sexpInt sexpKind = iota
	sexpSymbol
	sexpList
)

type sexp struct {
	kind    sexpKind
	integer int64
	symbol  string
	list    []*sexp
	line    int
}

func (s *sexp) String() string {
	switch s.kind {
	case sexpInt:
		return strconv.FormatInt(s.integer, 10)
	case sexpSymbol:
		return s.symbol
	default:
		parts := make([]string, len(s.list))
		for i, e := range s.list {
			parts[i] = e.String()
		}
		return "(" + strings.Join(parts, " ") + ")"
	}
}

func (s *sexp) isSymbol(name string) bool { return s.kind == sexpSymbol && s.symbol == name }

func (s *sexp) head() string {
	if s.kind == sexpList && len(s.list) > 0 && s.list[0].kind == sexpSymbol {
		return s.list[0].symbol
	}
	return ""
}

type tokenizer struct {
	r    *bufio.Reader
	line int
}

func isSymbolConstituent(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) ||
		strings.ContainsRune("%@._-!=:*", r)
}

// next returns the next token, or "" at end of input.
func (t *tokenizer) next() (string, error) {
	var contents strings.Builder
	reading := false
	for {
		c, _, err := t.r.ReadRune()
		if reading {
			if err != nil || !isSymbolConstituent(c) {
				t.r.UnreadRune()
				return contents.String(), nil
			}
			contents.WriteRune(c)
			continue
		}
		if err == io.EOF {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		switch {
		case c == '\n':
			t.line++
		case unicode.IsSpace(c):
		case c == ';':
			// comment to end of line
			for {
				c, _, err = t.r.ReadRune()
				if err != nil || c == '\n' {
					t.line++
					break
				}
			}
		case c == '(':
			return "(", nil
		case c == ')':
			return ")", nil
		case isSymbolConstituent(c):
			contents.WriteRune(c)
			reading = true
		default:
			return "", fmt.Errorf("line %d: unrecognized character %q", t.line, c)
		}
	}
}

func readSExp(t *tokenizer) (*sexp, error) {
	tok, err := t.next()
	if err != nil {
		return nil, err
	}
	return readSExpFrom(t, tok)
}

func readSExpFrom(t *tokenizer, tok string) (*sexp, error) {
	switch tok {
	case "":
		return nil, nil
	case ")":
		return nil, fmt.Errorf("line %d: unexpected ')'", t.line)
	case "(":
		list := &sexp{kind: sexpList, line: t.line}
		for {
			tok, err := t.next()
			if err != nil {
				return nil, err
			}
			if tok == ")" {
				return list, nil
			}
			if tok == "" {
				return nil, fmt.Errorf("line %d: unexpected end of input", t.line)
			}
			e, err := readSExpFrom(t, tok)
			if err != nil {
				return nil, err
			}
			list.list = append(list.list, e)
		}
	default:
		if i, err := strconv.ParseInt(tok, 10, 64); err == nil {
			return &sexp{kind: sexpInt, integer: i, line: t.line}, nil
		}
		return &sexp{kind: sexpSymbol, symbol: tok, line: t.line}, nil
	}
}

// ParseModule reads a textual module.
func ParseModule(r io.Reader) (*Module, error) {
	t := &tokenizer{r: bufio.NewReader(r), line: 1}
	root, err := readSExp(t)
	if err != nil {
		return nil, err
	}
	if root == nil || root.head() != "module" || len(root.list) < 2 ||
		root.list[1].kind != sexpSymbol {
		return nil, fmt.Errorf("expected (module NAME ...)")
	}
	p := &parser{mod: NewModule(root.list[1].symbol)}

	forms := root.list[2:]
	// First pass registers every global and function so bodies can reference them in
	// any order.
	for _, f := range forms {
		if err := p.declareForm(f); err != nil {
			return nil, err
		}
	}
	for _, f := range forms {
		if f.head() != "func" {
			continue
		}
		if err := p.funcBody(f); err != nil {
			return nil, err
		}
	}
	return p.mod, nil
}

// ParseModuleString reads a textual module from a string.
func ParseModuleString(s string) (*Module, error) {
	return ParseModule(strings.NewReader(s))
}

type parser struct {
	mod *Module
}

func (p *parser) errf(s *sexp, format string, args ...any) error {
	return fmt.Errorf("line %d: %s", s.line, fmt.Sprintf(format, args...))
}

func (p *parser) declareForm(f *sexp) error {
	switch f.head() {
	case "global":
		if len(f.list) != 3 || f.list[1].kind != sexpSymbol {
			return p.errf(f, "expected (global @name TYPE)")
		}
		elem, err := p.parseType(f.list[2])
		if err != nil {
			return err
		}
		p.mod.NewGlobal(strings.TrimPrefix(f.list[1].symbol, "@"), elem)
		return nil
	case "declare":
		if len(f.list) < 3 || f.list[1].kind != sexpSymbol {
			return p.errf(f, "expected (declare @name SIG ...)")
		}
		typ, err := p.parseType(f.list[2])
		if err != nil {
			return err
		}
		sig, ok := typ.(*FuncType)
		if !ok {
			return p.errf(f.list[2], "declare needs a (fn ...) signature, got %s", typ)
		}
		fn := p.mod.NewFunction(strings.TrimPrefix(f.list[1].symbol, "@"), sig)
		return p.parseAttrs(fn, f.list[3:])
	case "func":
		if len(f.list) < 4 || f.list[1].kind != sexpSymbol || f.list[3].kind != sexpList {
			return p.errf(f, "expected (func @name RET (PARAMS) ...)")
		}
		ret, err := p.parseType(f.list[2])
		if err != nil {
			return err
		}
		var ptypes []Type
		var pnames []string
		for _, pf := range f.list[3].list {
			if pf.kind != sexpList || len(pf.list) != 2 || pf.list[0].kind != sexpSymbol {
				return p.errf(pf, "expected (%%name TYPE) parameter")
			}
			pt, err := p.parseType(pf.list[1])
			if err != nil {
				return err
			}
			ptypes = append(ptypes, pt)
			pnames = append(pnames, strings.TrimPrefix(pf.list[0].symbol, "%"))
		}
		fn := p.mod.NewFunction(strings.TrimPrefix(f.list[1].symbol, "@"),
			FuncOf(ret, ptypes...), pnames...)
		for _, rest := range f.list[4:] {
			if rest.head() == "attrs" {
				if err := p.parseAttrs(fn, []*sexp{rest}); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return p.errf(f, "unknown module form %s", f.head())
}

func (p *parser) parseAttrs(fn *Function, forms []*sexp) error {
	for _, f := range forms {
		if f.head() != "attrs" {
			return p.errf(f, "expected (attrs ...), got %s", f)
		}
		for _, a := range f.list[1:] {
			if a.kind != sexpList || len(a.list) < 1 || a.list[0].kind != sexpSymbol {
				return p.errf(a, "expected (key [value]) attribute")
			}
			v := ""
			if len(a.list) == 2 {
				v = a.list[1].String()
			}
			fn.SetAttr(a.list[0].symbol, v)
		}
	}
	return nil
}

func (p *parser) parseType(s *sexp) (Type, error) {
	if s.kind == sexpSymbol {
		switch s.symbol {
		case "void":
			return Void, nil
		case "i1":
			return I1, nil
		case "i8":
			return I8, nil
		case "i32":
			return I32, nil
		case "i64":
			return I64, nil
		case "f32":
			return F32, nil
		case "f64":
			return F64, nil
		}
		if n, ok := bitWidth(s.symbol, 'i'); ok {
			return &IntType{Bits: n}, nil
		}
		if n, ok := bitWidth(s.symbol, 'f'); ok {
			return &FloatType{Bits: n}, nil
		}
		return nil, p.errf(s, "unknown type %s", s.symbol)
	}
	switch s.head() {
	case "ptr":
		if len(s.list) == 2 {
			elem, err := p.parseType(s.list[1])
			if err != nil {
				return nil, err
			}
			return PointerTo(elem), nil
		}
		if len(s.list) == 4 && s.list[2].isSymbol("addrspace") && s.list[3].kind == sexpInt {
			elem, err := p.parseType(s.list[1])
			if err != nil {
				return nil, err
			}
			return &PointerType{Elem: elem, AddrSpace: int(s.list[3].integer)}, nil
		}
		return nil, p.errf(s, "expected (ptr TYPE [addrspace N])")
	case "gcptr":
		if len(s.list) != 2 {
			return nil, p.errf(s, "expected (gcptr TYPE)")
		}
		elem, err := p.parseType(s.list[1])
		if err != nil {
			return nil, err
		}
		return GCPointerTo(elem), nil
	case "struct":
		var fields []Type
		for _, fs := range s.list[1:] {
			ft, err := p.parseType(fs)
			if err != nil {
				return nil, err
			}
			fields = append(fields, ft)
		}
		return &StructType{Fields: fields}, nil
	case "fn":
		if len(s.list) < 3 || s.list[2].kind != sexpList {
			return nil, p.errf(s, "expected (fn RET (PARAMS) [variadic])")
		}
		ret, err := p.parseType(s.list[1])
		if err != nil {
			return nil, err
		}
		var params []Type
		for _, ps := range s.list[2].list {
			pt, err := p.parseType(ps)
			if err != nil {
				return nil, err
			}
			params = append(params, pt)
		}
		variadic := len(s.list) == 4 && s.list[3].isSymbol("variadic")
		return &FuncType{Ret: ret, Params: params, Variadic: variadic}, nil
	}
	return nil, p.errf(s, "unknown type form %s", s)
}

func bitWidth(sym string, prefix byte) (int, bool) {
	if len(sym) < 2 || sym[0] != prefix {
		return 0, false
	}
	n, err := strconv.Atoi(sym[1:])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// forwardRef is a placeholder for a phi incoming value defined later in the body. All
// placeholders are resolved before funcBody returns.
type forwardRef struct {
	valueBase
}

func (r *forwardRef) String() string { return "%" + r.name }

type funcParser struct {
	*parser
	fn      *Function
	locals  map[string]Value
	forward map[string]*forwardRef
}

func (p *parser) funcBody(f *sexp) error {
	fn := p.mod.Func(strings.TrimPrefix(f.list[1].symbol, "@"))
	fp := &funcParser{
		parser:  p,
		fn:      fn,
		locals:  map[string]Value{},
		forward: map[string]*forwardRef{},
	}
	for _, a := range fn.Params {
		fp.locals["%"+a.Name()] = a
	}
	var blockForms []*sexp
	for _, bf := range f.list[4:] {
		if bf.head() == "attrs" {
			continue
		}
		if bf.head() != "block" || len(bf.list) < 2 || bf.list[1].kind != sexpSymbol {
			return p.errf(bf, "expected (block NAME ...)")
		}
		fn.NewBlock(bf.list[1].symbol)
		blockForms = append(blockForms, bf)
	}
	for _, bf := range blockForms {
		b := fn.Block(bf.list[1].symbol)
		for _, inf := range bf.list[2:] {
			if err := fp.instr(b, inf); err != nil {
				return err
			}
		}
	}
	for name, ref := range fp.forward {
		def, ok := fp.locals[name]
		if !ok {
			return fmt.Errorf("function @%s: undefined value %s", fn.Name(), name)
		}
		ReplaceAllUsesWith(ref, def)
	}
	return nil
}

func (fp *funcParser) define(name string, v Value) error {
	if _, dup := fp.locals[name]; dup {
		return fmt.Errorf("function @%s: redefinition of %s", fp.fn.Name(), name)
	}
	fp.locals[name] = v
	return nil
}

// operand resolves a non-phi operand, which must already be defined.
func (fp *funcParser) operand(s *sexp) (Value, error) {
	v, err := fp.operandOrForward(s, nil)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// operandOrForward resolves an operand. When typ is non-nil, unresolved %names become
// forward references of that type instead of errors.
func (fp *funcParser) operandOrForward(s *sexp, typ Type) (Value, error) {
	if s.kind == sexpSymbol {
		sym := s.symbol
		if strings.HasPrefix(sym, "%") {
			if v, ok := fp.locals[sym]; ok {
				return v, nil
			}
			if typ != nil {
				if ref, ok := fp.forward[sym]; ok {
					return ref, nil
				}
				ref := &forwardRef{valueBase{name: strings.TrimPrefix(sym, "%"), typ: typ}}
				fp.forward[sym] = ref
				return ref, nil
			}
			return nil, fp.errf(s, "use of undefined value %s", sym)
		}
		if strings.HasPrefix(sym, "@") {
			name := strings.TrimPrefix(sym, "@")
			if g := fp.mod.Global(name); g != nil {
				return g, nil
			}
			if f := fp.mod.Func(name); f != nil {
				return f, nil
			}
			return nil, fp.errf(s, "use of undefined symbol %s", sym)
		}
		return nil, fp.errf(s, "expected operand, got %s", sym)
	}
	if s.kind != sexpList || len(s.list) != 2 {
		return nil, fp.errf(s, "expected operand, got %s", s)
	}
	switch {
	case s.list[0].isSymbol("null"):
		t, err := fp.parseType(s.list[1])
		if err != nil {
			return nil, err
		}
		return NewNull(t), nil
	case s.list[0].isSymbol("undef"):
		t, err := fp.parseType(s.list[1])
		if err != nil {
			return nil, err
		}
		return NewUndef(t), nil
	default:
		t, err := fp.parseType(s.list[0])
		if err != nil {
			return nil, err
		}
		if s.list[1].kind != sexpInt {
			return nil, fp.errf(s, "expected integer constant, got %s", s.list[1])
		}
		return NewIntConst(t, s.list[1].integer), nil
	}
}

func (fp *funcParser) operands(forms []*sexp) ([]Value, error) {
	var vs []Value
	for _, f := range forms {
		v, err := fp.operand(f)
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}
	return vs, nil
}

func (fp *funcParser) blockRef(s *sexp) (*BasicBlock, error) {
	if s.kind != sexpSymbol {
		return nil, fp.errf(s, "expected block name, got %s", s)
	}
	b := fp.fn.Block(s.symbol)
	if b == nil {
		return nil, fp.errf(s, "unknown block %s", s.symbol)
	}
	return b, nil
}

//gocyclo:ignore
func (fp *funcParser) instr(b *BasicBlock, s *sexp) error {
	if s.kind != sexpList || len(s.list) == 0 {
		return fp.errf(s, "expected instruction, got %s", s)
	}
	forms := s.list
	name := ""
	if len(forms) >= 2 && forms[1].isSymbol("=") {
		if forms[0].kind != sexpSymbol || !strings.HasPrefix(forms[0].symbol, "%") {
			return fp.errf(s, "expected (%%name = OP ...)")
		}
		name = strings.TrimPrefix(forms[0].symbol, "%")
		forms = forms[2:]
	}
	if len(forms) == 0 || forms[0].kind != sexpSymbol {
		return fp.errf(s, "expected instruction op in %s", s)
	}
	op := forms[0].symbol
	args := forms[1:]

	// Trailing metadata atoms.
	var md []string
	for len(args) > 0 {
		last := args[len(args)-1]
		if last.kind == sexpSymbol && strings.HasPrefix(last.symbol, "!") {
			md = append(md, strings.TrimPrefix(last.symbol, "!"))
			args = args[:len(args)-1]
			continue
		}
		break
	}

	in, err := fp.buildInstr(op, name, args, s)
	if err != nil {
		return err
	}
	for _, k := range md {
		in.SetMetadata(k)
	}
	b.Append(in)
	if name != "" {
		return fp.define("%"+name, in)
	}
	return nil
}

//gocyclo:ignore
func (fp *funcParser) buildInstr(op, name string, args []*sexp, s *sexp) (Instruction, error) {
	switch op {
	case "alloca":
		if len(args) != 1 {
			return nil, fp.errf(s, "expected (alloca TYPE)")
		}
		t, err := fp.parseType(args[0])
		if err != nil {
			return nil, err
		}
		return NewAlloca(name, t), nil
	case "load":
		if len(args) != 1 {
			return nil, fp.errf(s, "expected (load ADDR)")
		}
		addr, err := fp.operand(args[0])
		if err != nil {
			return nil, err
		}
		return NewLoad(name, addr), nil
	case "store":
		volatile := len(args) == 3 && args[0].isSymbol("volatile")
		if volatile {
			args = args[1:]
		}
		if len(args) != 2 {
			return nil, fp.errf(s, "expected (store [volatile] VAL ADDR)")
		}
		val, err := fp.operand(args[0])
		if err != nil {
			return nil, err
		}
		addr, err := fp.operand(args[1])
		if err != nil {
			return nil, err
		}
		st := NewStore(val, addr)
		st.Volatile = volatile
		return st, nil
	case "gep":
		if len(args) < 1 {
			return nil, fp.errf(s, "expected (gep BASE IDX...)")
		}
		vs, err := fp.operands(args)
		if err != nil {
			return nil, err
		}
		return NewGetElementPtr(name, vs[0], vs[1:]...), nil
	case "bitcast", "inttoptr", "ptrtoint":
		if len(args) != 2 {
			return nil, fp.errf(s, "expected (%s VAL TYPE)", op)
		}
		v, err := fp.operand(args[0])
		if err != nil {
			return nil, err
		}
		t, err := fp.parseType(args[1])
		if err != nil {
			return nil, err
		}
		switch op {
		case "bitcast":
			return NewBitCast(name, v, t), nil
		case "inttoptr":
			return NewIntToPtr(name, v, t), nil
		default:
			return NewPtrToInt(name, v, t), nil
		}
	case "icmp":
		if len(args) != 3 || args[0].kind != sexpSymbol {
			return nil, fp.errf(s, "expected (icmp PRED VAL VAL)")
		}
		x, err := fp.operand(args[1])
		if err != nil {
			return nil, err
		}
		y, err := fp.operand(args[2])
		if err != nil {
			return nil, err
		}
		return NewICmp(name, args[0].symbol, x, y), nil
	case "add", "sub", "mul", "and", "or", "xor":
		if len(args) != 2 {
			return nil, fp.errf(s, "expected (%s VAL VAL)", op)
		}
		x, err := fp.operand(args[0])
		if err != nil {
			return nil, err
		}
		y, err := fp.operand(args[1])
		if err != nil {
			return nil, err
		}
		return NewBinOp(name, op, x, y), nil
	case "phi":
		if len(args) < 1 {
			return nil, fp.errf(s, "expected (phi TYPE (VAL BLOCK)...)")
		}
		t, err := fp.parseType(args[0])
		if err != nil {
			return nil, err
		}
		phi := NewPhi(name, t)
		for _, inc := range args[1:] {
			if inc.kind != sexpList || len(inc.list) != 2 {
				return nil, fp.errf(inc, "expected (VAL BLOCK) incoming pair")
			}
			v, err := fp.operandOrForward(inc.list[0], t)
			if err != nil {
				return nil, err
			}
			blk, err := fp.blockRef(inc.list[1])
			if err != nil {
				return nil, err
			}
			phi.Incoming = append(phi.Incoming, Incoming{Value: v, Block: blk})
		}
		return phi, nil
	case "select":
		if len(args) != 3 {
			return nil, fp.errf(s, "expected (select COND VAL VAL)")
		}
		vs, err := fp.operands(args)
		if err != nil {
			return nil, err
		}
		return NewSelect(name, vs[0], vs[1], vs[2]), nil
	case "call":
		cc := CallConvDefault
		if len(args) > 0 && args[0].isSymbol("cold") {
			cc = CallConvCold
			args = args[1:]
		}
		if len(args) < 1 {
			return nil, fp.errf(s, "expected (call [cold] CALLEE ARGS...)")
		}
		vs, err := fp.operands(args)
		if err != nil {
			return nil, err
		}
		c := NewCall(name, vs[0], vs[1:]...)
		c.CallConv = cc
		return c, nil
	case "invoke":
		if len(args) != 4 || args[1].kind != sexpList {
			return nil, fp.errf(s, "expected (invoke CALLEE (ARGS...) NORMAL UNWIND)")
		}
		callee, err := fp.operand(args[0])
		if err != nil {
			return nil, err
		}
		cargs, err := fp.operands(args[1].list)
		if err != nil {
			return nil, err
		}
		normal, err := fp.blockRef(args[2])
		if err != nil {
			return nil, err
		}
		unwind, err := fp.blockRef(args[3])
		if err != nil {
			return nil, err
		}
		return NewInvoke(name, callee, cargs, normal, unwind), nil
	case "extractvalue":
		if len(args) != 2 || args[1].kind != sexpInt {
			return nil, fp.errf(s, "expected (extractvalue AGG IDX)")
		}
		agg, err := fp.operand(args[0])
		if err != nil {
			return nil, err
		}
		return NewExtractValue(name, agg, int(args[1].integer)), nil
	case "atomicxchg":
		if len(args) != 2 {
			return nil, fp.errf(s, "expected (atomicxchg ADDR VAL)")
		}
		vs, err := fp.operands(args)
		if err != nil {
			return nil, err
		}
		return NewAtomicXchg(name, vs[0], vs[1]), nil
	case "atomiccmpxchg":
		if len(args) != 3 {
			return nil, fp.errf(s, "expected (atomiccmpxchg ADDR OLD NEW)")
		}
		vs, err := fp.operands(args)
		if err != nil {
			return nil, err
		}
		return NewAtomicCmpXchg(name, vs[0], vs[1], vs[2]), nil
	case "br":
		if len(args) != 1 {
			return nil, fp.errf(s, "expected (br BLOCK)")
		}
		dest, err := fp.blockRef(args[0])
		if err != nil {
			return nil, err
		}
		return NewBr(dest), nil
	case "condbr":
		if len(args) != 3 {
			return nil, fp.errf(s, "expected (condbr COND THEN ELSE)")
		}
		cond, err := fp.operand(args[0])
		if err != nil {
			return nil, err
		}
		then, err := fp.blockRef(args[1])
		if err != nil {
			return nil, err
		}
		els, err := fp.blockRef(args[2])
		if err != nil {
			return nil, err
		}
		return NewCondBr(cond, then, els), nil
	case "indirectbr":
		if len(args) < 2 {
			return nil, fp.errf(s, "expected (indirectbr ADDR BLOCK...)")
		}
		addr, err := fp.operand(args[0])
		if err != nil {
			return nil, err
		}
		var dests []*BasicBlock
		for _, d := range args[1:] {
			blk, err := fp.blockRef(d)
			if err != nil {
				return nil, err
			}
			dests = append(dests, blk)
		}
		return NewIndirectBr(addr, dests...), nil
	case "ret":
		if len(args) == 0 {
			return NewRet(nil), nil
		}
		if len(args) != 1 {
			return nil, fp.errf(s, "expected (ret [VAL])")
		}
		v, err := fp.operand(args[0])
		if err != nil {
			return nil, err
		}
		return NewRet(v), nil
	case "unreachable":
		return NewUnreachable(), nil
	}
	return nil, fp.errf(s, "unknown instruction op %s", op)
}
