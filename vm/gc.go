package vm

// ---------------------------------------------------------------------------
// GC cooperation
// ---------------------------------------------------------------------------

// GCTrigger connects the heap to the interpreter loop. When the heap asks
// for a collection the remaining cycle budget is parked and the loop
// exits at the next instruction boundary.
type GCTrigger struct {
	cycles    *int
	parked    int
	requested bool
}

func newGCTrigger(cycles *int) *GCTrigger {
	return &GCTrigger{cycles: cycles}
}

func (g *GCTrigger) request() {
	if g.requested {
		return
	}
	g.requested = true
	g.parked = *g.cycles
	*g.cycles = 0
}

// resume clears the request and restores the parked budget.
func (g *GCTrigger) resume() {
	g.requested = false
	*g.cycles = g.parked
	g.parked = 0
}

// Collect marks every cell reachable from roots and frees the rest.
// Reference counting reclaims almost everything; Collect picks up cells
// stranded by traps that fired while an instruction held them. It returns
// the number of cells reclaimed.
func (h *Heap) Collect(roots ...[]Value) int {
	for _, set := range roots {
		for _, v := range set {
			h.mark(v)
		}
	}

	var leaked []uint32
	for i := firstCell; i < len(h.cells); i++ {
		c := &h.cells[i]
		if c.ref > 0 && !c.marked {
			leaked = append(leaked, uint32(i))
		}
	}
	for _, i := range leaked {
		c := &h.cells[i]
		h.unlink(c.base)
		if c.base == Undef {
			for _, e := range c.elems {
				h.unlink(e)
			}
		}
		if c.m != nil {
			for j := range c.m.keys {
				h.unlink(c.m.keys[j])
				h.unlink(c.m.vals[j])
			}
		}
	}
	for _, i := range leaked {
		h.cells[i].reset()
		h.free = append(h.free, i)
		h.live--
	}
	for i := firstCell; i < len(h.cells); i++ {
		h.cells[i].marked = false
	}
	h.allocs = 0
	return len(leaked)
}

// unlink drops a reference held by a leaked cell on a surviving one.
func (h *Heap) unlink(v Value) {
	if !v.counted() {
		return
	}
	c := &h.cells[v.index()]
	if c.marked && c.ref > 1 {
		c.ref--
	}
}

func (h *Heap) mark(v Value) {
	if !v.counted() {
		return
	}
	c := &h.cells[v.index()]
	if c.marked || c.ref <= 0 {
		return
	}
	c.marked = true
	if c.base != Undef {
		h.mark(c.base)
	} else {
		for _, e := range c.elems {
			h.mark(e)
		}
	}
	if c.m != nil {
		for i := range c.m.keys {
			h.mark(c.m.keys[i])
			h.mark(c.m.vals[i])
		}
	}
}
