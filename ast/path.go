package ast

// Path splits an assignment target into its root identifier and the
// index, slice and selector steps applied to it, innermost first. root is
// nil when the target does not start with a name.
func Path(x Expr) (root *Ident, steps []Expr) {
	for {
		switch e := x.(type) {
		case *IndexExpr:
			steps = append(steps, e)
			x = e.X
		case *SliceExpr:
			steps = append(steps, e)
			x = e.X
		case *SelectorExpr:
			steps = append(steps, e)
			x = e.X
		case *Ident:
			for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
				steps[i], steps[j] = steps[j], steps[i]
			}
			return e, steps
		default:
			return nil, nil
		}
	}
}

// Reads reports whether evaluating x may read variable d, directly or
// through a function call.
func Reads(x Expr, d *VarDecl) bool {
	switch e := x.(type) {
	case nil:
		return false
	case *Literal, *FuncLit:
		return false
	case *Ident:
		return e.Decl == d
	case *UnaryExpr:
		return Reads(e.X, d)
	case *BinaryExpr:
		return Reads(e.X, d) || Reads(e.Y, d)
	case *IndexExpr:
		return Reads(e.X, d) || Reads(e.Index, d)
	case *SliceExpr:
		return Reads(e.X, d) || Reads(e.Lo, d) || Reads(e.Hi, d)
	case *SelectorExpr:
		return Reads(e.X, d)
	case *CompositeLit:
		for _, el := range e.Elems {
			if Reads(el, d) {
				return true
			}
		}
		for _, kv := range e.Pairs {
			if Reads(kv.Key, d) || Reads(kv.Value, d) {
				return true
			}
		}
		return false
	case *CallExpr:
		if e.Kind == CallClosure || e.Kind == CallDirect {
			return true
		}
		for _, a := range e.Args {
			if Reads(a, d) {
				return true
			}
		}
		return false
	}
	return true
}
