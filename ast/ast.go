// Package ast declares the syntax tree of szl programs.
//
// The parser builds the tree; the checker resolves names and fills in the
// type and storage fields marked "set by the checker". The compiler only
// reads checked trees.
package ast

import (
	"github.com/google/szl-sub002/types"
)

// ---------------------------------------------------------------------------
// Positions
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// ---------------------------------------------------------------------------
// Declarations and scopes
// ---------------------------------------------------------------------------

// VarDecl declares a variable, a function or an output table. It is also a
// statement.
type VarDecl struct {
	SpanVal Span
	Name    string
	TypeX   TypeExpr // nil when the type is inferred from Init
	Init    Expr     // nil when the variable starts undefined
	Static  bool

	// Set by the checker.
	T      *types.Type
	Depth  int      // nesting depth of the declaring function, 0 for globals
	Slot   int      // frame slot, or -1 for tables
	Table  int      // output table index, or -1
	Owner  *FuncLit // declaring function, nil for globals
	Fixed  bool     // function declaration never reassigned; callable directly
	Params bool     // declared as a function parameter
}

func (n *VarDecl) Span() Span { return n.SpanVal }
func (n *VarDecl) node()      {}
func (n *VarDecl) stmt()      {}

// IsTable reports whether the declaration is an output table.
func (n *VarDecl) IsTable() bool { return n.Table >= 0 }

// TypeDecl names a type.
type TypeDecl struct {
	SpanVal Span
	Name    string
	TypeX   TypeExpr

	T *types.Type // set by the checker
}

func (n *TypeDecl) Span() Span { return n.SpanVal }
func (n *TypeDecl) node()      {}
func (n *TypeDecl) stmt()      {}

// ---------------------------------------------------------------------------
// Type expressions
// ---------------------------------------------------------------------------

// TypeExpr is the interface for type syntax.
type TypeExpr interface {
	Node
	typeExpr()
}

// NamedType refers to a basic or declared type by name.
type NamedType struct {
	SpanVal Span
	Name    string
}

func (n *NamedType) Span() Span { return n.SpanVal }
func (n *NamedType) node()      {}
func (n *NamedType) typeExpr()  {}

// ArrayType is "array of Elem".
type ArrayType struct {
	SpanVal Span
	Elem    TypeExpr
}

func (n *ArrayType) Span() Span { return n.SpanVal }
func (n *ArrayType) node()      {}
func (n *ArrayType) typeExpr()  {}

// MapType is "map[Key] of Elem".
type MapType struct {
	SpanVal Span
	Key     TypeExpr
	Elem    TypeExpr
}

func (n *MapType) Span() Span { return n.SpanVal }
func (n *MapType) node()      {}
func (n *MapType) typeExpr()  {}

// FieldDecl is one field of a tuple type. Tag is the protocol buffer
// field number given with "@ n", or 0.
type FieldDecl struct {
	Name  string
	TypeX TypeExpr
	Tag   int
}

// TupleType is "{a: int, b: float}".
type TupleType struct {
	SpanVal Span
	Fields  []FieldDecl
}

func (n *TupleType) Span() Span { return n.SpanVal }
func (n *TupleType) node()      {}
func (n *TupleType) typeExpr()  {}

// ParamDecl is a named function parameter.
type ParamDecl struct {
	Name  string
	TypeX TypeExpr
}

// FuncType is "function(a: int): int".
type FuncType struct {
	SpanVal Span
	Params  []ParamDecl
	Result  TypeExpr // nil for no result
}

func (n *FuncType) Span() Span { return n.SpanVal }
func (n *FuncType) node()      {}
func (n *FuncType) typeExpr()  {}

// TableType is "table kind(param)[idx]... of name: elem weight name: w".
type TableType struct {
	SpanVal    Span
	Kind       string
	Param      Expr // nil when absent
	Indices    []TypeExpr
	ElemName   string
	Elem       TypeExpr
	WeightName string
	Weight     TypeExpr // nil when unweighted
}

func (n *TableType) Span() Span { return n.SpanVal }
func (n *TableType) node()      {}
func (n *TableType) typeExpr()  {}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	Type() *types.Type
	SetType(t *types.Type)
	expr() // marker method
}

// ExprBase holds the span and checked type shared by every expression.
type ExprBase struct {
	SpanVal Span
	T       *types.Type // set by the checker
}

func (b *ExprBase) Span() Span            { return b.SpanVal }
func (b *ExprBase) Type() *types.Type     { return b.T }
func (b *ExprBase) SetType(t *types.Type) { b.T = t }
func (b *ExprBase) node()                 {}
func (b *ExprBase) expr()                 {}

// Literal is a constant of a basic type. Which field holds the value
// follows from Kind.
type Literal struct {
	ExprBase
	Kind  types.Kind
	Int   int64
	Bits  uint64 // uint, fingerprint and time
	Float float64
	Str   string // string and bytes contents
	Bool  bool
}

// Ident is a name. The checker binds it to exactly one of Decl, TypeRef
// or Builtin.
type Ident struct {
	ExprBase
	Name string

	Decl    *VarDecl
	TypeRef *types.Type
	Builtin string
}

// UnaryExpr is "Op X" for -, !, ~ and not.
type UnaryExpr struct {
	ExprBase
	Op string
	X  Expr
}

// BinaryExpr is "X Op Y".
type BinaryExpr struct {
	ExprBase
	Op string
	X  Expr
	Y  Expr
}

// CallKind tells the compiler how a call is lowered.
type CallKind int

const (
	CallClosure   CallKind = iota // call a function value
	CallDirect                    // call a fixed function declaration
	CallConvert                   // T(x)
	CallIntrinsic                 // built-in function
)

// CallExpr is "Fun(Args...)".
type CallExpr struct {
	ExprBase
	Fun  Expr
	Args []Expr

	// Set by the checker.
	Kind      CallKind
	Intrinsic string
	Target    *VarDecl // CallDirect
}

// IndexExpr is "X[Index]".
type IndexExpr struct {
	ExprBase
	X     Expr
	Index Expr
}

// SliceExpr is "X[Lo:Hi]". Missing bounds are nil.
type SliceExpr struct {
	ExprBase
	X  Expr
	Lo Expr
	Hi Expr
}

// SelectorExpr is "X.Sel".
type SelectorExpr struct {
	ExprBase
	X     Expr
	Sel   string
	Field int // set by the checker
}

// KeyValue is one "key: value" element of a map literal.
type KeyValue struct {
	Key   Expr
	Value Expr
}

// CompositeLit is "{a, b}" or "{k: v}". Its type comes from context: the
// declared type of the target, a conversion, or the element types.
type CompositeLit struct {
	ExprBase
	Elems []Expr
	Pairs []KeyValue
	IsMap bool // "{:}" or key-value elements
}

// FuncLit is a function body with its signature. It owns the frame layout
// computed by the checker.
type FuncLit struct {
	ExprBase
	Sig  *FuncType
	Body *Block
	Name string // declared name for diagnostics, "" if anonymous

	// Set by the checker.
	Depth  int // nesting depth of the body, 1 for top-level functions
	Params []*VarDecl
	Locals []*VarDecl // in slot order
	Index  int        // function index, 1-based; 0 is the global frame
	Parent *FuncLit   // enclosing function, nil for top-level ones
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// Block is "{ stmts }".
type Block struct {
	SpanVal Span
	Stmts   []Stmt
}

func (n *Block) Span() Span { return n.SpanVal }
func (n *Block) node()      {}
func (n *Block) stmt()      {}

// ExprStmt is an expression evaluated for its effect.
type ExprStmt struct {
	SpanVal Span
	X       Expr
}

func (n *ExprStmt) Span() Span { return n.SpanVal }
func (n *ExprStmt) node()      {}
func (n *ExprStmt) stmt()      {}

// AssignStmt is "LHS = RHS".
type AssignStmt struct {
	SpanVal Span
	LHS     Expr
	RHS     Expr

	// Temps hold the value and the index of each accessor of a nested
	// target, evaluated before the target variable is taken apart. Entry 0
	// is the value. Set by the checker; nil entries need no temporary.
	Temps []*VarDecl
}

func (n *AssignStmt) Span() Span { return n.SpanVal }
func (n *AssignStmt) node()      {}
func (n *AssignStmt) stmt()      {}

// IncDecStmt is "X++" or "X--".
type IncDecStmt struct {
	SpanVal Span
	X       Expr
	Delta   int

	Temps []*VarDecl // as in AssignStmt
}

func (n *IncDecStmt) Span() Span { return n.SpanVal }
func (n *IncDecStmt) node()      {}
func (n *IncDecStmt) stmt()      {}

// EmitStmt is "emit Table[Indices]... <- Value weight Weight".
type EmitStmt struct {
	SpanVal Span
	Table   *Ident
	Indices []Expr
	Value   Expr
	Weight  Expr // nil when unweighted
}

func (n *EmitStmt) Span() Span { return n.SpanVal }
func (n *EmitStmt) node()      {}
func (n *EmitStmt) stmt()      {}

// IfStmt is "if (Cond) Then else Else".
type IfStmt struct {
	SpanVal Span
	Cond    Expr
	Then    Stmt
	Else    Stmt // nil when absent
}

func (n *IfStmt) Span() Span { return n.SpanVal }
func (n *IfStmt) node()      {}
func (n *IfStmt) stmt()      {}

// WhileStmt is "while (Cond) Body".
type WhileStmt struct {
	SpanVal Span
	Cond    Expr
	Body    Stmt
}

func (n *WhileStmt) Span() Span { return n.SpanVal }
func (n *WhileStmt) node()      {}
func (n *WhileStmt) stmt()      {}

// DoStmt is "do Body while (Cond);".
type DoStmt struct {
	SpanVal Span
	Body    Stmt
	Cond    Expr
}

func (n *DoStmt) Span() Span { return n.SpanVal }
func (n *DoStmt) node()      {}
func (n *DoStmt) stmt()      {}

// ForStmt is "for (Init; Cond; Post) Body". Any clause may be nil.
type ForStmt struct {
	SpanVal Span
	Init    Stmt
	Cond    Expr
	Post    Stmt
	Body    Stmt
}

func (n *ForStmt) Span() Span { return n.SpanVal }
func (n *ForStmt) node()      {}
func (n *ForStmt) stmt()      {}

// BranchStmt is "break" or "continue".
type BranchStmt struct {
	SpanVal  Span
	Continue bool
}

func (n *BranchStmt) Span() Span { return n.SpanVal }
func (n *BranchStmt) node()      {}
func (n *BranchStmt) stmt()      {}

// ReturnStmt is "return Result". A bare return outside any function ends
// processing of the current record.
type ReturnStmt struct {
	SpanVal Span
	Result  Expr // nil for a bare return

	Func *FuncLit // enclosing function, nil at top level; set by the checker
}

func (n *ReturnStmt) Span() Span { return n.SpanVal }
func (n *ReturnStmt) node()      {}
func (n *ReturnStmt) stmt()      {}

// ---------------------------------------------------------------------------
// Program
// ---------------------------------------------------------------------------

// Program is a parsed source file.
type Program struct {
	File  string
	Stmts []Stmt

	// Set by the checker.
	Globals []*VarDecl // global frame slots in slot order
	Tables  []*VarDecl // output tables in index order
	Funcs   []*FuncLit // every function literal, Funcs[i].Index == i+1
	Input   *VarDecl
	Aux     *VarDecl
}
