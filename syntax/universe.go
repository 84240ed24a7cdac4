package syntax

import (
	"github.com/google/szl-sub002/ast"
	"github.com/google/szl-sub002/types"
)

// ---------------------------------------------------------------------------
// Predeclared names
// ---------------------------------------------------------------------------

var basicTypes = map[string]*types.Type{
	"bool":        types.BoolType,
	"int":         types.IntType,
	"uint":        types.UIntType,
	"float":       types.FloatType,
	"fingerprint": types.FingerprintType,
	"time":        types.TimeType,
	"string":      types.StringType,
	"bytes":       types.BytesType,
}

// builtin describes the signature of a predeclared function. Builtins with
// a nil check have fixed parameter and result types.
type builtin struct {
	params []*types.Type
	result *types.Type
	check  func(c *checker, call *ast.CallExpr) *types.Type
}

var (
	intArray    = types.ArrayOf(types.IntType)
	stringArray = types.ArrayOf(types.StringType)
)

var builtins map[string]*builtin

func init() {
	str, i, b := types.StringType, types.IntType, types.BoolType
	builtins = map[string]*builtin{
		"lowercase":           {params: []*types.Type{str}, result: str},
		"uppercase":           {params: []*types.Type{str}, result: str},
		"trim":                {params: []*types.Type{str}, result: str},
		"strfind":             {params: []*types.Type{str, str}, result: i},
		"strrfind":            {params: []*types.Type{str, str}, result: i},
		"strreplace":          {params: []*types.Type{str, str, str, b}, result: str},
		"splitstring":         {params: []*types.Type{str, str}, result: stringArray},
		"match":               {params: []*types.Type{str, str}, result: b},
		"matchposns":          {params: []*types.Type{str, str}, result: intArray},
		"matchstrs":           {params: []*types.Type{str, str}, result: stringArray},
		"getadditionalinput":  {params: []*types.Type{str}, result: types.BytesType},
		"lockadditionalinput": {result: types.VoidType},

		"len":           {check: checkLen},
		"def":           {check: checkDef},
		"inproto":       {check: checkInProto},
		"clearproto":    {check: checkClearProto},
		"undefine":      {check: checkUndefine},
		"format":        {check: checkFormat},
		"assert":        {check: checkAssert},
		"fingerprintof": {check: checkFingerprintOf},
		"abs":           {check: checkAbs},
		"haskey":        {check: checkHasKey},
		"keys":          {check: checkKeys},
	}
}

// IsBuiltin reports whether name is a predeclared function.
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

func (c *checker) checkBuiltin(call *ast.CallExpr, name string) *types.Type {
	bi := builtins[name]
	call.Kind = ast.CallIntrinsic
	call.Intrinsic = name
	if bi.check != nil {
		return bi.check(c, call)
	}
	if len(call.Args) != len(bi.params) {
		c.errorf(call, "%s expects %d arguments, got %d", name, len(bi.params), len(call.Args))
		return invalid
	}
	for k, a := range call.Args {
		c.checkAssignable(a, bi.params[k], "argument to "+name)
	}
	return bi.result
}

func (c *checker) wantArgs(call *ast.CallExpr, n int) bool {
	if len(call.Args) != n {
		c.errorf(call, "%s expects %d arguments, got %d", call.Intrinsic, n, len(call.Args))
		return false
	}
	return true
}

func checkLen(c *checker, call *ast.CallExpr) *types.Type {
	if !c.wantArgs(call, 1) {
		return invalid
	}
	t := c.checkValue(call.Args[0], nil)
	switch t.Kind {
	case types.String, types.Bytes, types.Array, types.Map, types.Invalid:
		return types.IntType
	}
	c.errorf(call.Args[0], "len of %s", t)
	return invalid
}

func checkDef(c *checker, call *ast.CallExpr) *types.Type {
	if !c.wantArgs(call, 1) {
		return invalid
	}
	c.checkValue(call.Args[0], nil)
	return types.BoolType
}

// protoField checks that x selects a field of a tuple.
func (c *checker) protoField(x ast.Expr) (*ast.SelectorExpr, bool) {
	sel, ok := x.(*ast.SelectorExpr)
	if !ok {
		c.errorf(x, "argument must select a tuple field")
		return nil, false
	}
	c.checkValue(sel, nil)
	return sel, true
}

func checkInProto(c *checker, call *ast.CallExpr) *types.Type {
	if !c.wantArgs(call, 1) {
		return invalid
	}
	c.protoField(call.Args[0])
	return types.BoolType
}

func checkClearProto(c *checker, call *ast.CallExpr) *types.Type {
	if !c.wantArgs(call, 1) {
		return invalid
	}
	if sel, ok := c.protoField(call.Args[0]); ok {
		id, ok := sel.X.(*ast.Ident)
		if !ok || id.Decl == nil {
			c.errorf(sel, "clearproto needs a field of a tuple variable")
		} else {
			c.checkWritable(id)
		}
	}
	return types.VoidType
}

func checkUndefine(c *checker, call *ast.CallExpr) *types.Type {
	if !c.wantArgs(call, 1) {
		return invalid
	}
	id, ok := call.Args[0].(*ast.Ident)
	if !ok {
		c.errorf(call.Args[0], "undefine needs a variable")
		return types.VoidType
	}
	c.checkValue(id, nil)
	if id.Decl != nil {
		c.checkWritable(id)
	}
	return types.VoidType
}

func checkFormat(c *checker, call *ast.CallExpr) *types.Type {
	if len(call.Args) == 0 {
		c.errorf(call, "format needs a format string")
		return invalid
	}
	c.checkAssignable(call.Args[0], types.StringType, "format string")
	for _, a := range call.Args[1:] {
		c.checkValue(a, nil)
	}
	return types.StringType
}

func checkAssert(c *checker, call *ast.CallExpr) *types.Type {
	if len(call.Args) != 1 && len(call.Args) != 2 {
		c.errorf(call, "assert expects 1 or 2 arguments, got %d", len(call.Args))
		return types.VoidType
	}
	c.checkAssignable(call.Args[0], types.BoolType, "assertion")
	if len(call.Args) == 2 {
		lit, ok := call.Args[1].(*ast.Literal)
		if !ok || lit.Kind != types.String {
			c.errorf(call.Args[1], "assert message must be a string literal")
		} else {
			lit.SetType(types.StringType)
		}
	}
	return types.VoidType
}

func checkFingerprintOf(c *checker, call *ast.CallExpr) *types.Type {
	if !c.wantArgs(call, 1) {
		return invalid
	}
	t := c.checkValue(call.Args[0], nil)
	if t.Kind == types.Function || t.Kind == types.Table {
		c.errorf(call.Args[0], "cannot fingerprint %s", t)
	}
	return types.FingerprintType
}

func checkAbs(c *checker, call *ast.CallExpr) *types.Type {
	if !c.wantArgs(call, 1) {
		return invalid
	}
	t := c.checkValue(call.Args[0], nil)
	switch t.Kind {
	case types.Int, types.Float, types.Invalid:
		return t
	}
	c.errorf(call.Args[0], "abs of %s", t)
	return invalid
}

func (c *checker) mapArg(x ast.Expr) *types.Type {
	t := c.checkValue(x, nil)
	if t.Kind != types.Map {
		if t.Kind != types.Invalid {
			c.errorf(x, "%s is not a map", t)
		}
		return nil
	}
	return t
}

func checkHasKey(c *checker, call *ast.CallExpr) *types.Type {
	if !c.wantArgs(call, 2) {
		return invalid
	}
	if m := c.mapArg(call.Args[0]); m != nil {
		c.checkAssignable(call.Args[1], m.Key, "map key")
	}
	return types.BoolType
}

func checkKeys(c *checker, call *ast.CallExpr) *types.Type {
	if !c.wantArgs(call, 1) {
		return invalid
	}
	if m := c.mapArg(call.Args[0]); m != nil {
		return types.ArrayOf(m.Key)
	}
	return invalid
}
