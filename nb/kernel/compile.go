// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kernel

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"strconv"

	"github.com/ajroetker/go-nonbonded/nb"
)

// CompileError reports a fragment or synthesized source that could not be
// compiled. Source is the complete text the position refers to.
type CompileError struct {
	// Term is the offending term when the error is local to one fragment.
	Term   string
	Source string
	Pos    token.Position
	Msg    string
}

func (e *CompileError) Error() string {
	where := ""
	if e.Pos.IsValid() {
		where = fmt.Sprintf("%d:%d: ", e.Pos.Line, e.Pos.Column)
	}
	if e.Term != "" {
		return fmt.Sprintf("nb: compile: %s: %s%s", e.Term, where, e.Msg)
	}
	return fmt.Sprintf("nb: compile: %s%s", where, e.Msg)
}

// Is matches nb.ErrCompile.
func (e *CompileError) Is(target error) bool {
	return target == nb.ErrCompile
}

type (
	frame  []float64
	numFn  func(f frame) float64
	boolFn func(f frame) bool
	stmtFn func(f frame)
)

// value is a compiled expression of either kind.
type value struct {
	num  numFn
	cond boolFn
}

func (v value) isBool() bool { return v.cond != nil }

// variable is a frame slot.
type variable struct {
	slot     int
	isBool   bool
	readOnly bool
}

// boundParam is a per-particle parameter copied into two slots per pair.
type boundParam struct {
	values       []float64
	slot1, slot2 int
}

// Program is one compiled kernel variant.
type Program struct {
	source string

	numSlots int
	r, r2    int
	invR     int
	excluded int
	params   []boundParam
	energy   int
	dEdR     int
	derivs   []int
	body     []stmtFn
}

// Source returns the synthesized source the program was compiled from.
func (p *Program) Source() string {
	return p.source
}

// NumDerivatives returns the number of energy parameter derivatives.
func (p *Program) NumDerivatives() int {
	return len(p.derivs)
}

func (p *Program) newFrame() frame {
	return make(frame, p.numSlots)
}

// eval runs the program for particles i and j at squared distance r2.
func (p *Program) eval(f frame, i, j int, r2 float64, excluded bool) {
	r := math.Sqrt(r2)
	f[p.r], f[p.r2], f[p.invR] = r, r2, 1/r
	if p.excluded >= 0 {
		f[p.excluded] = b2f(excluded)
	}
	for _, bp := range p.params {
		f[bp.slot1] = bp.values[i]
		f[bp.slot2] = bp.values[j]
	}
	f[p.energy], f[p.dEdR] = 0, 0
	for _, s := range p.derivs {
		f[s] = 0
	}
	for _, s := range p.body {
		s(f)
	}
}

// compile compiles synthesized source against the given bindings.
func compile(src string, params []Parameter, args []Argument) (*Program, error) {
	c := &compiler{
		src:    src,
		fset:   token.NewFileSet(),
		vars:   make(map[string]*variable),
		consts: make(map[string]float64),
		args:   make(map[string][]float64),
	}
	for _, a := range args {
		c.args[a.Name] = a.Values
	}
	file, err := parser.ParseFile(c.fset, "fused.go", src, parser.SkipObjectResolution)
	if err != nil {
		return nil, &CompileError{Source: src, Msg: err.Error()}
	}

	var fn *ast.FuncDecl
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.GenDecl:
			if err := c.constDecl(d); err != nil {
				return nil, err
			}
		case *ast.FuncDecl:
			if d.Name.Name == funcName {
				fn = d
			}
		}
	}
	if fn == nil {
		return nil, &CompileError{Source: src, Msg: "missing " + funcName}
	}
	return c.function(fn, params)
}

type compiler struct {
	src    string
	fset   *token.FileSet
	vars   map[string]*variable
	consts map[string]float64
	args   map[string][]float64
	slots  int
}

func (c *compiler) errorf(pos token.Pos, format string, args ...any) error {
	return &CompileError{Source: c.src, Pos: c.fset.Position(pos), Msg: fmt.Sprintf(format, args...)}
}

func (c *compiler) define(name string, isBool, readOnly bool) *variable {
	v := &variable{slot: c.slots, isBool: isBool, readOnly: readOnly}
	c.slots++
	c.vars[name] = v
	return v
}

func (c *compiler) constDecl(d *ast.GenDecl) error {
	if d.Tok != token.CONST {
		return c.errorf(d.Pos(), "unexpected %s declaration", d.Tok)
	}
	for _, spec := range d.Specs {
		vs := spec.(*ast.ValueSpec)
		if len(vs.Names) != len(vs.Values) {
			return c.errorf(vs.Pos(), "constant without value")
		}
		for k, name := range vs.Names {
			v, err := c.expr(vs.Values[k])
			if err != nil {
				return err
			}
			if v.isBool() {
				return c.errorf(name.Pos(), "constant %s is not numeric", name.Name)
			}
			c.consts[name.Name] = v.num(nil)
		}
	}
	return nil
}

func (c *compiler) function(fn *ast.FuncDecl, params []Parameter) (*Program, error) {
	p := &Program{source: c.src, excluded: -1}
	byName := make(map[string]Parameter, len(params))
	for _, bp := range params {
		byName[bp.Name+"1"] = bp
		byName[bp.Name+"2"] = bp
	}

	slotOf := make(map[string]int)
	for _, field := range fn.Type.Params.List {
		for _, name := range field.Names {
			if _, isArg := c.args[name.Name]; isArg {
				continue
			}
			v := c.define(name.Name, name.Name == nameExcluded, true)
			slotOf[name.Name] = v.slot
		}
	}
	p.r, p.r2, p.invR = slotOf[nameR], slotOf[nameR2], slotOf[nameInvR]
	if s, ok := slotOf[nameExcluded]; ok {
		p.excluded = s
	}
	for _, bp := range params {
		p.params = append(p.params, boundParam{values: bp.Values, slot1: slotOf[bp.Name+"1"], slot2: slotOf[bp.Name+"2"]})
	}

	for _, field := range fn.Type.Results.List {
		for _, name := range field.Names {
			v := c.define(name.Name, false, false)
			switch name.Name {
			case nameEnergy:
				p.energy = v.slot
			case nameDEdR:
				p.dEdR = v.slot
			default:
				p.derivs = append(p.derivs, v.slot)
			}
		}
	}

	stmts := fn.Body.List
	if n := len(stmts); n > 0 {
		if ret, ok := stmts[n-1].(*ast.ReturnStmt); ok && len(ret.Results) == 0 {
			stmts = stmts[:n-1]
		}
	}
	body, err := c.stmts(stmts)
	if err != nil {
		return nil, err
	}
	p.body = body
	p.numSlots = c.slots
	return p, nil
}

func (c *compiler) stmts(list []ast.Stmt) ([]stmtFn, error) {
	out := make([]stmtFn, 0, len(list))
	for _, s := range list {
		fn, err := c.stmt(s)
		if err != nil {
			return nil, err
		}
		if fn != nil {
			out = append(out, fn)
		}
	}
	return out, nil
}

func runAll(body []stmtFn) stmtFn {
	return func(f frame) {
		for _, s := range body {
			s(f)
		}
	}
}

func (c *compiler) stmt(s ast.Stmt) (stmtFn, error) {
	switch s := s.(type) {
	case *ast.AssignStmt:
		return c.assign(s)
	case *ast.BlockStmt:
		body, err := c.stmts(s.List)
		if err != nil {
			return nil, err
		}
		return runAll(body), nil
	case *ast.IfStmt:
		return c.ifStmt(s)
	case *ast.IncDecStmt:
		v, err := c.target(s.X)
		if err != nil {
			return nil, err
		}
		delta := 1.0
		if s.Tok == token.DEC {
			delta = -1
		}
		slot := v.slot
		return func(f frame) { f[slot] += delta }, nil
	case *ast.EmptyStmt:
		return nil, nil
	}
	return nil, c.errorf(s.Pos(), "unsupported statement %T", s)
}

func (c *compiler) ifStmt(s *ast.IfStmt) (stmtFn, error) {
	if s.Init != nil {
		return nil, c.errorf(s.Init.Pos(), "if statements cannot have an init statement")
	}
	cond, err := c.expr(s.Cond)
	if err != nil {
		return nil, err
	}
	if !cond.isBool() {
		return nil, c.errorf(s.Cond.Pos(), "non-boolean condition in if statement")
	}
	thenBody, err := c.stmts(s.Body.List)
	if err != nil {
		return nil, err
	}
	then := runAll(thenBody)
	if s.Else == nil {
		test := cond.cond
		return func(f frame) {
			if test(f) {
				then(f)
			}
		}, nil
	}
	otherwise, err := c.stmt(s.Else)
	if err != nil {
		return nil, err
	}
	test := cond.cond
	return func(f frame) {
		if test(f) {
			then(f)
		} else {
			otherwise(f)
		}
	}, nil
}

// target resolves an assignable numeric variable.
func (c *compiler) target(e ast.Expr) (*variable, error) {
	id, ok := e.(*ast.Ident)
	if !ok {
		return nil, c.errorf(e.Pos(), "cannot assign to %s", c.text(e))
	}
	v, ok := c.vars[id.Name]
	if !ok {
		return nil, c.errorf(id.Pos(), "undefined: %s", id.Name)
	}
	if v.readOnly {
		return nil, c.errorf(id.Pos(), "cannot assign to input %s", id.Name)
	}
	return v, nil
}

func (c *compiler) assign(s *ast.AssignStmt) (stmtFn, error) {
	if len(s.Lhs) != len(s.Rhs) {
		return nil, c.errorf(s.Pos(), "assignment mismatch: %d variables but %d values", len(s.Lhs), len(s.Rhs))
	}
	rhs := make([]value, len(s.Rhs))
	for k, e := range s.Rhs {
		v, err := c.expr(e)
		if err != nil {
			return nil, err
		}
		rhs[k] = v
	}

	slots := make([]int, len(s.Lhs))
	switch s.Tok {
	case token.DEFINE:
		for k, e := range s.Lhs {
			id, ok := e.(*ast.Ident)
			if !ok {
				return nil, c.errorf(e.Pos(), "non-name %s on left side of :=", c.text(e))
			}
			if _, exists := c.vars[id.Name]; exists || c.isConstOrArg(id.Name) {
				return nil, c.errorf(id.Pos(), "%s redeclared", id.Name)
			}
			slots[k] = c.define(id.Name, rhs[k].isBool(), false).slot
		}
	case token.ASSIGN:
		for k, e := range s.Lhs {
			v, err := c.target(e)
			if err != nil {
				return nil, err
			}
			if v.isBool != rhs[k].isBool() {
				return nil, c.errorf(e.Pos(), "mismatched types in assignment to %s", c.text(e))
			}
			slots[k] = v.slot
		}
	default:
		if len(s.Lhs) != 1 {
			return nil, c.errorf(s.Pos(), "%s requires a single variable", s.Tok)
		}
		v, err := c.target(s.Lhs[0])
		if err != nil {
			return nil, err
		}
		if v.isBool || rhs[0].isBool() {
			return nil, c.errorf(s.Pos(), "operator %s not defined on booleans", s.Tok)
		}
		return c.opAssign(s, v.slot, rhs[0].num)
	}

	stores := make([]stmtFn, len(rhs))
	for k, v := range rhs {
		slot := slots[k]
		if v.isBool() {
			stores[k] = func(f frame) { f[slot] = b2f(v.cond(f)) }
		} else {
			stores[k] = func(f frame) { f[slot] = v.num(f) }
		}
	}
	// Fresh names cannot appear on the right, so definitions store in order.
	if len(rhs) == 1 || s.Tok == token.DEFINE {
		return runAll(stores), nil
	}
	return func(f frame) {
		tmp := make([]float64, len(rhs))
		for k, v := range rhs {
			if v.isBool() {
				tmp[k] = b2f(v.cond(f))
			} else {
				tmp[k] = v.num(f)
			}
		}
		for k, slot := range slots {
			f[slot] = tmp[k]
		}
	}, nil
}

func (c *compiler) opAssign(s *ast.AssignStmt, slot int, x numFn) (stmtFn, error) {
	switch s.Tok {
	case token.ADD_ASSIGN:
		return func(f frame) { f[slot] += x(f) }, nil
	case token.SUB_ASSIGN:
		return func(f frame) { f[slot] -= x(f) }, nil
	case token.MUL_ASSIGN:
		return func(f frame) { f[slot] *= x(f) }, nil
	case token.QUO_ASSIGN:
		return func(f frame) { f[slot] /= x(f) }, nil
	}
	return nil, c.errorf(s.Pos(), "unsupported assignment operator %s", s.Tok)
}

func (c *compiler) isConstOrArg(name string) bool {
	_, isConst := c.consts[name]
	_, isArg := c.args[name]
	return isConst || isArg
}

func (c *compiler) expr(e ast.Expr) (value, error) {
	switch e := e.(type) {
	case *ast.BasicLit:
		return c.literal(e)
	case *ast.ParenExpr:
		return c.expr(e.X)
	case *ast.Ident:
		return c.ident(e)
	case *ast.UnaryExpr:
		return c.unary(e)
	case *ast.BinaryExpr:
		return c.binary(e)
	case *ast.CallExpr:
		return c.call(e)
	case *ast.IndexExpr:
		return c.index(e)
	case *ast.SelectorExpr:
		if pkg, ok := e.X.(*ast.Ident); ok && pkg.Name == "math" {
			switch e.Sel.Name {
			case "Pi":
				return constant(math.Pi), nil
			case "E":
				return constant(math.E), nil
			}
		}
	}
	return value{}, c.errorf(e.Pos(), "unsupported expression %s", c.text(e))
}

func constant(x float64) value {
	return value{num: func(frame) float64 { return x }}
}

func (c *compiler) literal(e *ast.BasicLit) (value, error) {
	switch e.Kind {
	case token.INT:
		n, err := strconv.ParseInt(e.Value, 0, 64)
		if err != nil {
			return value{}, c.errorf(e.Pos(), "bad integer literal %s", e.Value)
		}
		return constant(float64(n)), nil
	case token.FLOAT:
		x, err := strconv.ParseFloat(e.Value, 64)
		if err != nil {
			return value{}, c.errorf(e.Pos(), "bad float literal %s", e.Value)
		}
		return constant(x), nil
	}
	return value{}, c.errorf(e.Pos(), "unsupported literal %s", e.Value)
}

func (c *compiler) ident(e *ast.Ident) (value, error) {
	switch e.Name {
	case "true":
		return value{cond: func(frame) bool { return true }}, nil
	case "false":
		return value{cond: func(frame) bool { return false }}, nil
	}
	if v, ok := c.vars[e.Name]; ok {
		slot := v.slot
		if v.isBool {
			return value{cond: func(f frame) bool { return f[slot] != 0 }}, nil
		}
		return value{num: func(f frame) float64 { return f[slot] }}, nil
	}
	if x, ok := c.consts[e.Name]; ok {
		return constant(x), nil
	}
	if vals, ok := c.args[e.Name]; ok {
		if len(vals) != 1 {
			return value{}, c.errorf(e.Pos(), "argument %s has %d values and must be indexed", e.Name, len(vals))
		}
		return value{num: func(frame) float64 { return vals[0] }}, nil
	}
	return value{}, c.errorf(e.Pos(), "undefined: %s", e.Name)
}

func (c *compiler) unary(e *ast.UnaryExpr) (value, error) {
	x, err := c.expr(e.X)
	if err != nil {
		return value{}, err
	}
	switch {
	case e.Op == token.SUB && !x.isBool():
		return value{num: func(f frame) float64 { return -x.num(f) }}, nil
	case e.Op == token.ADD && !x.isBool():
		return x, nil
	case e.Op == token.NOT && x.isBool():
		return value{cond: func(f frame) bool { return !x.cond(f) }}, nil
	}
	return value{}, c.errorf(e.Pos(), "invalid operation %s", c.text(e))
}

func (c *compiler) binary(e *ast.BinaryExpr) (value, error) {
	x, err := c.expr(e.X)
	if err != nil {
		return value{}, err
	}
	y, err := c.expr(e.Y)
	if err != nil {
		return value{}, err
	}
	if e.Op == token.LAND || e.Op == token.LOR {
		if !x.isBool() || !y.isBool() {
			return value{}, c.errorf(e.OpPos, "operator %s requires booleans", e.Op)
		}
		a, b := x.cond, y.cond
		if e.Op == token.LAND {
			return value{cond: func(f frame) bool { return a(f) && b(f) }}, nil
		}
		return value{cond: func(f frame) bool { return a(f) || b(f) }}, nil
	}
	if x.isBool() || y.isBool() {
		return value{}, c.errorf(e.OpPos, "operator %s not defined on booleans", e.Op)
	}
	a, b := x.num, y.num
	switch e.Op {
	case token.ADD:
		return value{num: func(f frame) float64 { return a(f) + b(f) }}, nil
	case token.SUB:
		return value{num: func(f frame) float64 { return a(f) - b(f) }}, nil
	case token.MUL:
		return value{num: func(f frame) float64 { return a(f) * b(f) }}, nil
	case token.QUO:
		return value{num: func(f frame) float64 { return a(f) / b(f) }}, nil
	case token.LSS:
		return value{cond: func(f frame) bool { return a(f) < b(f) }}, nil
	case token.LEQ:
		return value{cond: func(f frame) bool { return a(f) <= b(f) }}, nil
	case token.GTR:
		return value{cond: func(f frame) bool { return a(f) > b(f) }}, nil
	case token.GEQ:
		return value{cond: func(f frame) bool { return a(f) >= b(f) }}, nil
	case token.EQL:
		return value{cond: func(f frame) bool { return a(f) == b(f) }}, nil
	case token.NEQ:
		return value{cond: func(f frame) bool { return a(f) != b(f) }}, nil
	}
	return value{}, c.errorf(e.OpPos, "unsupported operator %s", e.Op)
}

func (c *compiler) index(e *ast.IndexExpr) (value, error) {
	id, ok := e.X.(*ast.Ident)
	if !ok {
		return value{}, c.errorf(e.Pos(), "cannot index %s", c.text(e.X))
	}
	vals, ok := c.args[id.Name]
	if !ok || len(vals) == 1 {
		return value{}, c.errorf(e.Pos(), "%s is not an indexed argument", id.Name)
	}
	idx, err := c.expr(e.Index)
	if err != nil {
		return value{}, err
	}
	if idx.isBool() {
		return value{}, c.errorf(e.Index.Pos(), "non-numeric index")
	}
	at := idx.num
	return value{num: func(f frame) float64 { return vals[int(at(f))] }}, nil
}

func (c *compiler) call(e *ast.CallExpr) (value, error) {
	name := ""
	switch fn := e.Fun.(type) {
	case *ast.Ident:
		name = fn.Name
	case *ast.SelectorExpr:
		if pkg, ok := fn.X.(*ast.Ident); ok && pkg.Name == "math" {
			name = mathAliases[fn.Sel.Name]
		}
	}
	if name == "" {
		return value{}, c.errorf(e.Pos(), "unsupported call %s", c.text(e.Fun))
	}
	args := make([]value, len(e.Args))
	for k, a := range e.Args {
		v, err := c.expr(a)
		if err != nil {
			return value{}, err
		}
		args[k] = v
	}

	if name == selectName {
		if len(args) != 3 || !args[0].isBool() || args[1].isBool() || args[2].isBool() {
			return value{}, c.errorf(e.Pos(), "select requires (bool, number, number)")
		}
		cond, a, b := args[0].cond, args[1].num, args[2].num
		return value{num: func(f frame) float64 {
			if cond(f) {
				return a(f)
			}
			return b(f)
		}}, nil
	}
	nums := make([]numFn, len(args))
	for k, a := range args {
		if a.isBool() {
			return value{}, c.errorf(e.Args[k].Pos(), "%s: boolean argument", name)
		}
		nums[k] = a.num
	}
	if fn, ok := unaryFuncs[name]; ok {
		if len(nums) != 1 {
			return value{}, c.errorf(e.Pos(), "%s takes 1 argument, got %d", name, len(nums))
		}
		x := nums[0]
		return value{num: func(f frame) float64 { return fn(x(f)) }}, nil
	}
	switch name {
	case "pow":
		if len(nums) != 2 {
			return value{}, c.errorf(e.Pos(), "pow takes 2 arguments, got %d", len(nums))
		}
		x, y := nums[0], nums[1]
		return value{num: func(f frame) float64 { return math.Pow(x(f), y(f)) }}, nil
	case "min", "max":
		if len(nums) < 2 {
			return value{}, c.errorf(e.Pos(), "%s takes at least 2 arguments", name)
		}
		pick := math.Min
		if name == "max" {
			pick = math.Max
		}
		return value{num: func(f frame) float64 {
			m := nums[0](f)
			for _, n := range nums[1:] {
				m = pick(m, n(f))
			}
			return m
		}}, nil
	}
	return value{}, c.errorf(e.Pos(), "undefined function %s", name)
}

var unaryFuncs = map[string]func(float64) float64{
	"sqrt":  math.Sqrt,
	"exp":   math.Exp,
	"log":   math.Log,
	"erf":   math.Erf,
	"erfc":  math.Erfc,
	"abs":   math.Abs,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tanh":  math.Tanh,
	"floor": math.Floor,
	"step": func(x float64) float64 {
		if x >= 0 {
			return 1
		}
		return 0
	},
}

// mathAliases maps math package functions onto fragment builtins.
var mathAliases = map[string]string{
	"Sqrt":  "sqrt",
	"Exp":   "exp",
	"Log":   "log",
	"Pow":   "pow",
	"Erf":   "erf",
	"Erfc":  "erfc",
	"Abs":   "abs",
	"Min":   "min",
	"Max":   "max",
	"Sin":   "sin",
	"Cos":   "cos",
	"Tanh":  "tanh",
	"Floor": "floor",
}

// text returns the source of a node.
func (c *compiler) text(n ast.Node) string {
	start, end := c.fset.Position(n.Pos()).Offset, c.fset.Position(n.End()).Offset
	if start < 0 || end > len(c.src) || start > end {
		return "expression"
	}
	return c.src[start:end]
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
