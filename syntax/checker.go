package syntax

import (
	"fmt"

	"github.com/google/szl-sub002/ast"
	"github.com/google/szl-sub002/emitter"
	"github.com/google/szl-sub002/types"
)

// ---------------------------------------------------------------------------
// Checker: name resolution, typing and frame layout
// ---------------------------------------------------------------------------

// invalid is the type of expressions that already produced an error.
var invalid = &types.Type{Kind: types.Invalid}

// outputType is the type of the predeclared stdout and stderr tables.
var outputType = types.TableOf(&types.TableSpec{Kind: "collection", Elem: types.StringType})

// object is what a name in scope refers to.
type object struct {
	decl    *ast.VarDecl
	typ     *types.Type
	builtin string
}

type scope struct {
	parent *scope
	names  map[string]*object
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, names: make(map[string]*object)}
}

func (s *scope) lookup(name string) *object {
	for ; s != nil; s = s.parent {
		if obj, ok := s.names[name]; ok {
			return obj
		}
	}
	return nil
}

type checker struct {
	file   string
	prog   *ast.Program
	errors ErrorList

	scope    *scope
	fn       *ast.FuncLit // function being checked, nil at top level
	loops    int
	inStatic bool // checking a static initializer
}

// Check resolves names and types in prog and assigns frame slots and
// table indices. The tree is annotated in place.
func Check(prog *ast.Program) error {
	c := &checker{file: prog.File, prog: prog}
	c.declareUniverse()
	for _, s := range prog.Stmts {
		c.checkStmt(s)
	}
	return c.errors.Err()
}

func (c *checker) errorf(n ast.Node, format string, args ...interface{}) {
	if len(c.errors) >= maxErrors {
		return
	}
	c.errors = append(c.errors, &Error{File: c.file, Pos: n.Span().Start, Msg: fmt.Sprintf(format, args...)})
}

// declareUniverse predeclares basic types, builtins, the input variables
// and the standard output tables.
func (c *checker) declareUniverse() {
	u := newScope(nil)
	for name, t := range basicTypes {
		u.names[name] = &object{typ: t}
	}
	for name := range builtins {
		u.names[name] = &object{builtin: name}
	}
	c.scope = newScope(u)

	c.prog.Input = c.predeclareVar("input")
	c.prog.Aux = c.predeclareVar("aux")
	for _, name := range []string{"stdout", "stderr"} {
		d := &ast.VarDecl{Name: name, T: outputType, Slot: -1, Table: len(c.prog.Tables)}
		c.prog.Tables = append(c.prog.Tables, d)
		u.names[name] = &object{decl: d}
	}
}

func (c *checker) predeclareVar(name string) *ast.VarDecl {
	d := &ast.VarDecl{Name: name, T: types.BytesType, Table: -1}
	d.Slot = len(c.prog.Globals) + 1
	c.prog.Globals = append(c.prog.Globals, d)
	c.scope.parent.names[name] = &object{decl: d}
	return d
}

func (c *checker) pushScope() { c.scope = newScope(c.scope) }
func (c *checker) popScope()  { c.scope = c.scope.parent }

func (c *checker) declare(n ast.Node, name string, obj *object) {
	if _, dup := c.scope.names[name]; dup {
		c.errorf(n, "%s redeclared in this block", name)
		return
	}
	c.scope.names[name] = obj
}

// allocate assigns d a slot in the frame of the current function.
func (c *checker) allocate(d *ast.VarDecl) {
	d.Table = -1
	if c.fn == nil {
		d.Depth = 0
		d.Slot = len(c.prog.Globals) + 1
		c.prog.Globals = append(c.prog.Globals, d)
		return
	}
	d.Depth = c.fn.Depth
	d.Owner = c.fn
	c.fn.Locals = append(c.fn.Locals, d)
	d.Slot = len(c.fn.Locals)
}

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

func (c *checker) resolveType(x ast.TypeExpr) *types.Type {
	switch x := x.(type) {
	case *ast.NamedType:
		obj := c.scope.lookup(x.Name)
		if obj == nil {
			c.errorf(x, "undefined type %s", x.Name)
			return invalid
		}
		if obj.typ == nil {
			c.errorf(x, "%s is not a type", x.Name)
			return invalid
		}
		return obj.typ

	case *ast.ArrayType:
		return types.ArrayOf(c.resolveValueType(x.Elem))

	case *ast.MapType:
		key := c.resolveValueType(x.Key)
		if key.Kind == types.Function {
			c.errorf(x.Key, "invalid map key type %s", key)
		}
		return types.MapOf(key, c.resolveValueType(x.Elem))

	case *ast.TupleType:
		fields := make([]types.Field, len(x.Fields))
		seen := make(map[string]bool)
		tags := make(map[int]bool)
		for i, f := range x.Fields {
			if f.Name != "" {
				if seen[f.Name] {
					c.errorf(x, "duplicate field %s", f.Name)
				}
				seen[f.Name] = true
			}
			if f.Tag != 0 {
				if tags[f.Tag] {
					c.errorf(x, "duplicate field tag %d", f.Tag)
				}
				tags[f.Tag] = true
			}
			fields[i] = types.Field{Name: f.Name, Type: c.resolveValueType(f.TypeX), Tag: f.Tag}
		}
		return types.TupleOf(fields...)

	case *ast.FuncType:
		params := make([]*types.Type, len(x.Params))
		for i, p := range x.Params {
			params[i] = c.resolveValueType(p.TypeX)
		}
		var result *types.Type
		if x.Result != nil {
			result = c.resolveValueType(x.Result)
		}
		return types.FuncOf(params, result)

	case *ast.TableType:
		return c.resolveTableType(x)
	}
	return invalid
}

// resolveValueType resolves a type that values can have.
func (c *checker) resolveValueType(x ast.TypeExpr) *types.Type {
	t := c.resolveType(x)
	if t.Kind == types.Table {
		c.errorf(x, "table type not allowed here")
		return invalid
	}
	return t
}

func (c *checker) resolveTableType(x *ast.TableType) *types.Type {
	spec := &types.TableSpec{
		Kind:       x.Kind,
		Elem:       c.resolveValueType(x.Elem),
		ElemName:   x.ElemName,
		WeightName: x.WeightName,
	}
	for _, idx := range x.Indices {
		spec.Indices = append(spec.Indices, c.resolveValueType(idx))
	}
	if x.Weight != nil {
		spec.Weight = c.resolveValueType(x.Weight)
	}
	if x.Param != nil {
		lit, ok := x.Param.(*ast.Literal)
		if !ok || lit.Kind != types.Int {
			c.errorf(x.Param, "table parameter must be an integer constant")
			return invalid
		}
		spec.Param, spec.HasParam = lit.Int, true
	}
	t := types.TableOf(spec)
	if _, err := emitter.NewWriter("", t, emitter.Options{}); err != nil {
		c.errorf(x, "%v", err)
		return invalid
	}
	return t
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *checker) checkStmt(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.VarDecl:
		c.checkVarDecl(s)

	case *ast.TypeDecl:
		t := c.resolveValueType(s.TypeX)
		if t != invalid {
			named := *t
			named.Name = s.Name
			t = &named
		}
		s.T = t
		c.declare(s, s.Name, &object{typ: t})

	case *ast.Block:
		c.pushScope()
		for _, st := range s.Stmts {
			c.checkStmt(st)
		}
		c.popScope()

	case *ast.ExprStmt:
		call, ok := s.X.(*ast.CallExpr)
		if !ok {
			c.errorf(s, "expression evaluated but not used")
			c.checkExpr(s.X, nil)
			return
		}
		c.checkExpr(call, nil)

	case *ast.AssignStmt:
		t := c.checkLValue(s.LHS)
		c.checkAssignable(s.RHS, t, "assignment")
		s.Temps = c.assignTemps(s.LHS, s.RHS)

	case *ast.IncDecStmt:
		t := c.checkLValue(s.X)
		switch t.Kind {
		case types.Int, types.UInt, types.Float, types.Invalid:
		default:
			c.errorf(s, "cannot increment %s", t)
		}
		s.Temps = c.assignTemps(s.X, nil)

	case *ast.EmitStmt:
		c.checkEmit(s)

	case *ast.IfStmt:
		c.checkCond(s.Cond)
		c.checkScoped(s.Then)
		if s.Else != nil {
			c.checkScoped(s.Else)
		}

	case *ast.WhileStmt:
		c.checkCond(s.Cond)
		c.checkLoopBody(s.Body)

	case *ast.DoStmt:
		c.checkLoopBody(s.Body)
		c.checkCond(s.Cond)

	case *ast.ForStmt:
		c.pushScope()
		if s.Init != nil {
			c.checkStmt(s.Init)
		}
		if s.Cond != nil {
			c.checkCond(s.Cond)
		}
		if s.Post != nil {
			if _, ok := s.Post.(*ast.VarDecl); ok {
				c.errorf(s.Post, "declaration not allowed in for post statement")
			}
			c.checkStmt(s.Post)
		}
		c.checkLoopBody(s.Body)
		c.popScope()

	case *ast.BranchStmt:
		if c.loops == 0 {
			if s.Continue {
				c.errorf(s, "continue outside loop")
			} else {
				c.errorf(s, "break outside loop")
			}
		}

	case *ast.ReturnStmt:
		c.checkReturn(s)
	}
}

// checkScoped checks a statement in its own scope.
func (c *checker) checkScoped(s ast.Stmt) {
	c.pushScope()
	c.checkStmt(s)
	c.popScope()
}

func (c *checker) checkLoopBody(s ast.Stmt) {
	c.loops++
	c.checkScoped(s)
	c.loops--
}

func (c *checker) checkCond(x ast.Expr) {
	c.checkAssignable(x, types.BoolType, "condition")
}

func (c *checker) checkReturn(s *ast.ReturnStmt) {
	s.Func = c.fn
	if c.fn == nil {
		if s.Result != nil {
			c.errorf(s, "return with a value outside a function")
		}
		return
	}
	want := c.fn.T.Result
	if s.Result == nil {
		if want.Kind != types.Void {
			c.errorf(s, "missing return value")
		}
		return
	}
	if want.Kind == types.Void {
		c.errorf(s, "function %s has no result", c.fn.Name)
		c.checkExpr(s.Result, nil)
		return
	}
	c.checkAssignable(s.Result, want, "return value")
}

func (c *checker) checkVarDecl(d *ast.VarDecl) {
	switch {
	case d.Static && c.fn != nil:
		c.errorf(d, "static declaration of %s inside a function", d.Name)
	case d.Static && c.scope.parent.parent != nil:
		c.errorf(d, "static declaration of %s must be at top level", d.Name)
	}
	saved := c.inStatic
	c.inStatic = d.Static
	defer func() { c.inStatic = saved }()

	if d.TypeX == nil {
		d.T = c.checkValue(d.Init, nil)
		c.allocate(d)
		c.declare(d, d.Name, &object{decl: d})
		return
	}

	d.T = c.resolveType(d.TypeX)
	if d.T.Kind == types.Table {
		c.checkTableDecl(d)
		return
	}

	if lit, ok := d.Init.(*ast.FuncLit); ok && lit.Name == d.Name && lit.Sig == d.TypeX {
		// Function declarations are visible in their own body.
		d.Fixed = true
		c.allocate(d)
		c.declare(d, d.Name, &object{decl: d})
		c.checkFuncLit(lit)
		return
	}
	if d.Init != nil {
		c.checkAssignable(d.Init, d.T, "initializer of "+d.Name)
	}
	c.allocate(d)
	c.declare(d, d.Name, &object{decl: d})
}

func (c *checker) checkTableDecl(d *ast.VarDecl) {
	switch {
	case c.fn != nil || c.scope.parent.parent != nil:
		c.errorf(d, "table %s must be declared at top level", d.Name)
	case d.Static:
		c.errorf(d, "table %s cannot be static", d.Name)
	case d.Init != nil:
		c.errorf(d, "table %s cannot be initialized", d.Name)
	}
	d.Slot = -1
	d.Table = len(c.prog.Tables)
	c.prog.Tables = append(c.prog.Tables, d)
	c.declare(d, d.Name, &object{decl: d})
}

func (c *checker) checkEmit(s *ast.EmitStmt) {
	obj := c.scope.lookup(s.Table.Name)
	if obj == nil || obj.decl == nil || !obj.decl.IsTable() {
		c.errorf(s.Table, "%s is not a table", s.Table.Name)
		return
	}
	d := obj.decl
	s.Table.Decl = d
	s.Table.SetType(d.T)
	spec := d.T.Table
	if len(s.Indices) != len(spec.Indices) {
		c.errorf(s, "table %s has %d indices, emit has %d", d.Name, len(spec.Indices), len(s.Indices))
		return
	}
	for i, x := range s.Indices {
		c.checkAssignable(x, spec.Indices[i], "index of "+d.Name)
	}
	c.checkAssignable(s.Value, spec.Elem, "value emitted to "+d.Name)
	switch {
	case spec.Weight != nil && s.Weight == nil:
		c.errorf(s, "emit to %s needs a weight", d.Name)
	case spec.Weight == nil && s.Weight != nil:
		c.errorf(s.Weight, "table %s is not weighted", d.Name)
	case s.Weight != nil:
		c.checkAssignable(s.Weight, spec.Weight, "weight")
	}
}

// checkFuncLit checks a function body in a new frame.
func (c *checker) checkFuncLit(f *ast.FuncLit) *types.Type {
	ft := c.resolveType(f.Sig)
	f.SetType(ft)
	f.Parent = c.fn
	f.Depth = 1
	if c.fn != nil {
		f.Depth = c.fn.Depth + 1
	}
	c.prog.Funcs = append(c.prog.Funcs, f)
	f.Index = len(c.prog.Funcs)
	if f.Name == "" {
		f.Name = fmt.Sprintf("$func%d", f.Index)
	}

	savedFn, savedLoops, savedStatic := c.fn, c.loops, c.inStatic
	c.fn, c.loops, c.inStatic = f, 0, false
	c.pushScope()
	f.Params = make([]*ast.VarDecl, len(f.Sig.Params))
	for i, p := range f.Sig.Params {
		d := &ast.VarDecl{Name: p.Name, T: ft.Params[i], Depth: f.Depth, Owner: f, Table: -1, Params: true}
		d.SpanVal = f.Sig.SpanVal
		f.Params[i] = d
		c.declare(f.Sig, p.Name, &object{decl: d})
	}
	c.pushScope()
	for _, s := range f.Body.Stmts {
		c.checkStmt(s)
	}
	c.popScope()
	c.popScope()
	// Parameters follow the locals in the frame.
	for i, d := range f.Params {
		d.Slot = len(f.Locals) + 1 + i
	}
	c.fn, c.loops, c.inStatic = savedFn, savedLoops, savedStatic
	return ft
}

// checkWritable reports assignments to variables that may not change.
func (c *checker) checkWritable(id *ast.Ident) {
	d := id.Decl
	switch {
	case d.IsTable():
		c.errorf(id, "cannot assign to table %s", d.Name)
	case d.Fixed:
		c.errorf(id, "cannot assign to function %s", d.Name)
	case d.Static && !c.inStatic:
		c.errorf(id, "cannot modify static variable %s", d.Name)
	}
}

// checkLValue checks an assignment target and returns its type.
func (c *checker) checkLValue(x ast.Expr) *types.Type {
	root := x
	for {
		switch e := root.(type) {
		case *ast.IndexExpr:
			root = e.X
			continue
		case *ast.SliceExpr:
			root = e.X
			continue
		case *ast.SelectorExpr:
			root = e.X
			continue
		}
		break
	}
	id, ok := root.(*ast.Ident)
	if !ok {
		c.errorf(x, "cannot assign to expression")
		c.checkExpr(x, nil)
		return invalid
	}
	t := c.checkValue(x, nil)
	if id.Decl == nil {
		c.errorf(id, "cannot assign to %s", id.Name)
		return invalid
	}
	c.checkWritable(id)
	return t
}

// assignTemps allocates temporaries for a target with more than one
// accessor. The target variable is moved out while the nested value is
// rebuilt, so the value and any index that reads the variable must be
// evaluated first.
func (c *checker) assignTemps(lhs, rhs ast.Expr) []*ast.VarDecl {
	root, steps := ast.Path(lhs)
	if root == nil || root.Decl == nil || len(steps) < 2 {
		return nil
	}
	temps := make([]*ast.VarDecl, len(steps)+1)
	temp := func(t *types.Type) *ast.VarDecl {
		d := &ast.VarDecl{Name: "$tmp", T: t}
		d.SpanVal = lhs.Span()
		c.allocate(d)
		return d
	}
	if rhs != nil && ast.Reads(rhs, root.Decl) {
		temps[0] = temp(lhs.Type())
	}
	for k, st := range steps {
		switch st := st.(type) {
		case *ast.SliceExpr:
			c.errorf(st, "slice assignment must target a variable")
			return nil
		case *ast.IndexExpr:
			if ast.Reads(st.Index, root.Decl) {
				temps[k+1] = temp(st.Index.Type())
			}
		}
	}
	return temps
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// checkAssignable checks x in the context of type want.
func (c *checker) checkAssignable(x ast.Expr, want *types.Type, context string) {
	t := c.checkValue(x, want)
	if t == invalid || want == invalid {
		return
	}
	if !types.Equal(t, want) {
		c.errorf(x, "%s: cannot use %s as %s", context, t, want)
	}
}

// checkValue checks an expression that must produce a value.
func (c *checker) checkValue(x ast.Expr, want *types.Type) *types.Type {
	t := c.checkExpr(x, want)
	switch t.Kind {
	case types.Void:
		c.errorf(x, "expression has no value")
		return invalid
	case types.Table:
		c.errorf(x, "table used as value")
		return invalid
	}
	return t
}

// checkExpr types x. want, when not nil, types composite literals.
func (c *checker) checkExpr(x ast.Expr, want *types.Type) *types.Type {
	t := c.typeOf(x, want)
	if t == nil {
		t = invalid
	}
	x.SetType(t)
	return t
}

func (c *checker) typeOf(x ast.Expr, want *types.Type) *types.Type {
	switch x := x.(type) {
	case *ast.Literal:
		return types.Basic(x.Kind)

	case *ast.Ident:
		return c.checkIdent(x)

	case *ast.UnaryExpr:
		t := c.checkValue(x.X, nil)
		ok := false
		switch x.Op {
		case "-":
			ok = t.IsNumeric()
		case "!":
			ok = t.Kind == types.Bool
		case "~":
			ok = t.Kind == types.Int || t.Kind == types.UInt
		}
		if !ok && t != invalid {
			c.errorf(x, "invalid operation %s%s", x.Op, t)
			return invalid
		}
		return t

	case *ast.BinaryExpr:
		return c.checkBinary(x)

	case *ast.CallExpr:
		return c.checkCall(x)

	case *ast.IndexExpr:
		t := c.checkValue(x.X, nil)
		switch t.Kind {
		case types.Array:
			c.checkAssignable(x.Index, types.IntType, "index")
			return t.Elem
		case types.String, types.Bytes:
			c.checkAssignable(x.Index, types.IntType, "index")
			return types.IntType
		case types.Map:
			c.checkAssignable(x.Index, t.Key, "map key")
			return t.Elem
		case types.Invalid:
			return invalid
		}
		c.errorf(x, "cannot index %s", t)
		return invalid

	case *ast.SliceExpr:
		t := c.checkValue(x.X, nil)
		if x.Lo != nil {
			c.checkAssignable(x.Lo, types.IntType, "slice bound")
		}
		if x.Hi != nil {
			c.checkAssignable(x.Hi, types.IntType, "slice bound")
		}
		if !t.IsIndexable() && t != invalid {
			c.errorf(x, "cannot slice %s", t)
			return invalid
		}
		return t

	case *ast.SelectorExpr:
		t := c.checkValue(x.X, nil)
		if t == invalid {
			return invalid
		}
		if t.Kind != types.Tuple {
			c.errorf(x, "%s has no fields", t)
			return invalid
		}
		x.Field = t.FieldIndex(x.Sel)
		if x.Field < 0 {
			c.errorf(x, "%s has no field %s", t, x.Sel)
			return invalid
		}
		return t.Fields[x.Field].Type

	case *ast.CompositeLit:
		return c.checkComposite(x, want)

	case *ast.FuncLit:
		return c.checkFuncLit(x)
	}
	c.errorf(x, "unexpected expression")
	return invalid
}

func (c *checker) checkIdent(x *ast.Ident) *types.Type {
	obj := c.scope.lookup(x.Name)
	if obj == nil {
		c.errorf(x, "undefined: %s", x.Name)
		return invalid
	}
	switch {
	case obj.typ != nil:
		x.TypeRef = obj.typ
		c.errorf(x, "type %s is not an expression", x.Name)
		return invalid
	case obj.builtin != "":
		x.Builtin = obj.builtin
		c.errorf(x, "%s must be called", x.Name)
		return invalid
	}
	d := obj.decl
	x.Decl = d
	if c.inStatic && d.Depth == 0 && !d.Static && !d.Fixed && !d.IsTable() && c.fn == nil {
		c.errorf(x, "static initializer refers to non-static variable %s", x.Name)
	}
	return d.T
}

var ordered = map[types.Kind]bool{
	types.Int: true, types.UInt: true, types.Float: true, types.Fingerprint: true,
	types.Time: true, types.String: true, types.Bytes: true,
}

func (c *checker) checkBinary(x *ast.BinaryExpr) *types.Type {
	switch x.Op {
	case "&&", "||":
		c.checkAssignable(x.X, types.BoolType, "operand of "+x.Op)
		c.checkAssignable(x.Y, types.BoolType, "operand of "+x.Op)
		return types.BoolType
	}

	l := c.checkValue(x.X, nil)
	r := c.checkValue(x.Y, l)
	if l == invalid || r == invalid {
		return invalid
	}
	bad := func() *types.Type {
		c.errorf(x, "invalid operation %s %s %s", l, x.Op, r)
		return invalid
	}

	switch x.Op {
	case "==", "!=", "<", "<=", ">", ">=":
		if !types.Equal(l, r) {
			return bad()
		}
		if x.Op != "==" && x.Op != "!=" && !ordered[l.Kind] {
			return bad()
		}
		if l.Kind == types.Function {
			return bad()
		}
		return types.BoolType

	case "+":
		if l.Kind == types.Time && r.Kind == types.Int {
			return l
		}
		switch l.Kind {
		case types.Int, types.UInt, types.Float, types.String, types.Bytes, types.Array, types.Fingerprint:
			if types.Equal(l, r) {
				return l
			}
		}
		return bad()

	case "-":
		if l.Kind == types.Time && r.Kind == types.Int {
			return l
		}
		if l.Kind == types.Time && r.Kind == types.Time {
			return types.IntType
		}
		if l.IsNumeric() && types.Equal(l, r) {
			return l
		}
		return bad()

	case "*", "/", "%":
		if l.IsNumeric() && types.Equal(l, r) {
			return l
		}
		return bad()

	case "<<", ">>", "&", "|", "^":
		if (l.Kind == types.Int || l.Kind == types.UInt) && types.Equal(l, r) {
			return l
		}
		return bad()
	}
	return bad()
}

func (c *checker) checkCall(x *ast.CallExpr) *types.Type {
	if id, ok := x.Fun.(*ast.Ident); ok {
		obj := c.scope.lookup(id.Name)
		switch {
		case obj == nil:
			c.errorf(id, "undefined: %s", id.Name)
			return invalid
		case obj.typ != nil:
			id.TypeRef = obj.typ
			id.SetType(obj.typ)
			return c.checkConversion(x, obj.typ)
		case obj.builtin != "":
			id.Builtin = obj.builtin
			id.SetType(invalid)
			return c.checkBuiltin(x, obj.builtin)
		}
	}

	ft := c.checkValue(x.Fun, nil)
	if ft == invalid {
		for _, a := range x.Args {
			c.checkExpr(a, nil)
		}
		return invalid
	}
	if ft.Kind != types.Function {
		c.errorf(x.Fun, "cannot call %s", ft)
		return invalid
	}
	if len(x.Args) != len(ft.Params) {
		c.errorf(x, "call has %d arguments, function takes %d", len(x.Args), len(ft.Params))
		return ft.Result
	}
	for i, a := range x.Args {
		c.checkAssignable(a, ft.Params[i], fmt.Sprintf("argument %d", i+1))
	}
	x.Kind = ast.CallClosure
	if id, ok := x.Fun.(*ast.Ident); ok && id.Decl != nil && id.Decl.Fixed {
		x.Kind = ast.CallDirect
		x.Target = id.Decl
	}
	return ft.Result
}

// checkConversion checks T(x).
func (c *checker) checkConversion(x *ast.CallExpr, to *types.Type) *types.Type {
	x.Kind = ast.CallConvert
	if len(x.Args) != 1 {
		c.errorf(x, "conversion to %s takes one argument", to)
		return invalid
	}
	arg := x.Args[0]
	if lit, ok := arg.(*ast.CompositeLit); ok {
		c.checkAssignable(lit, to, "conversion")
		return to
	}
	from := c.checkValue(arg, nil)
	switch {
	case from == invalid:
	case types.Equal(from, to):
	case from.IsBasic() && to.IsBasic() && types.Convertible(from.Kind, to.Kind):
	case from.Kind == types.Bytes && to.Kind == types.Tuple:
	case from.Kind == types.Tuple && to.Kind == types.Bytes:
	default:
		c.errorf(x, "cannot convert %s to %s", from, to)
	}
	return to
}

// checkComposite types a composite literal from want or, lacking it, from
// its first element.
func (c *checker) checkComposite(x *ast.CompositeLit, want *types.Type) *types.Type {
	skip := 0 // elements already checked while inferring the type
	if want == nil || want == invalid {
		switch {
		case len(x.Pairs) > 0:
			k := c.checkValue(x.Pairs[0].Key, nil)
			v := c.checkValue(x.Pairs[0].Value, nil)
			want = types.MapOf(k, v)
		case len(x.Elems) > 0:
			want = types.ArrayOf(c.checkValue(x.Elems[0], nil))
		default:
			c.errorf(x, "cannot infer the type of an empty composite literal")
			return invalid
		}
		skip = 1
	}

	switch want.Kind {
	case types.Array:
		if x.IsMap {
			c.errorf(x, "map literal used as %s", want)
			return invalid
		}
		for _, e := range x.Elems[skip:] {
			c.checkAssignable(e, want.Elem, "array element")
		}
		return want

	case types.Map:
		if len(x.Elems) > 0 {
			c.errorf(x, "list literal used as %s", want)
			return invalid
		}
		for _, kv := range x.Pairs[min(skip, len(x.Pairs)):] {
			c.checkAssignable(kv.Key, want.Key, "map key")
			c.checkAssignable(kv.Value, want.Elem, "map value")
		}
		return want

	case types.Tuple:
		if x.IsMap {
			c.errorf(x, "map literal used as %s", want)
			return invalid
		}
		if len(x.Elems) != len(want.Fields) {
			c.errorf(x, "%s has %d fields, literal has %d", want, len(want.Fields), len(x.Elems))
			return invalid
		}
		for i, e := range x.Elems {
			c.checkAssignable(e, want.Fields[i].Type, "tuple field")
		}
		return want
	}
	c.errorf(x, "composite literal used as %s", want)
	return invalid
}
