package vm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/google/szl-sub002/types"
)

var log = commonlog.GetLogger("szl.vm")

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

// Status is the state of a Proc after Execute returns.
type Status int

const (
	Running    Status = iota // executing, or ready to execute
	Suspended                // budget exhausted; call Execute again
	Terminated               // reached the end of the code
	Trapped                  // reached the end after recovering one or more traps
	Failed                   // fatal failure; see TrapInfo
)

var statusNames = [...]string{"RUNNING", "SUSPENDED", "TERMINATED", "TRAPPED", "FAILED"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Done reports whether the run finished without a fatal failure.
func (s Status) Done() bool {
	return s == Terminated || s == Trapped
}

var (
	ErrStackOverflow  = errors.New("stack overflow")
	ErrNotInitialized = errors.New("process not initialized")
	ErrInitFailed     = errors.New("initialization failed")
	ErrUnknownTable   = errors.New("unknown output table")
)

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options configures a Proc.
type Options struct {
	StackSize       int  // value stack slots
	CycleBudget     int  // instructions per Execute slice used by Run
	GCThreshold     int  // allocations between leak collections
	IgnoreUndefs    bool // recover statement-level traps instead of failing
	Profile         bool
	ProfileInterval int // instructions between profiler samples
	Location        *time.Location
	Stdout          io.Writer
	Stderr          io.Writer

	Seed               int64 // random seed for sampling tables
	FastWeightedSample bool

	Converter Converter
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		StackSize:       1 << 16,
		CycleBudget:     1 << 20,
		GCThreshold:     1 << 20,
		IgnoreUndefs:    true,
		ProfileInterval: 1000,
		Location:        time.UTC,
		Stdout:          os.Stdout,
		Stderr:          os.Stderr,
		Seed:            1,
	}
}

func (o *Options) fill() {
	d := DefaultOptions()
	if o.StackSize <= 0 {
		o.StackSize = d.StackSize
	}
	if o.CycleBudget <= 0 {
		o.CycleBudget = d.CycleBudget
	}
	if o.GCThreshold <= 0 {
		o.GCThreshold = d.GCThreshold
	}
	if o.ProfileInterval <= 0 {
		o.ProfileInterval = d.ProfileInterval
	}
	if o.Location == nil {
		o.Location = d.Location
	}
	if o.Stdout == nil {
		o.Stdout = d.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = d.Stderr
	}
}

// ---------------------------------------------------------------------------
// Proc
// ---------------------------------------------------------------------------

// Proc is one running instance of a Program. It is not safe for concurrent
// use; several Procs may share a Program.
type Proc struct {
	ID   uuid.UUID
	prog *Program
	opts Options

	heap   *Heap
	consts []Value
	stack  []Value

	// Interpreter registers.
	fp, sp, bp int
	pc         int
	lastPC     int // start of the instruction being executed
	retPC      int // valid between a call and the callee's ENTER
	cc         bool
	cycles     int
	steps      int64
	serial     int64

	trigger *GCTrigger

	status       Status
	trapInfo     string
	trapCount    int
	traceShown   bool
	initializing bool
	initialized  bool

	outputs  []*Outputter
	counters []int64
	profiler *Profiler

	inputs       map[string][]byte
	inputsLocked bool
}

// NewProc creates a Proc for prog. Output tables are validated here.
func NewProc(prog *Program, opts Options) (*Proc, error) {
	opts.fill()
	p := &Proc{
		ID:       uuid.New(),
		prog:     prog,
		opts:     opts,
		heap:     NewHeap(),
		stack:    make([]Value, opts.StackSize),
		counters: make([]int64, len(prog.Counters)),
		inputs:   make(map[string][]byte),
	}
	p.heap.SetGCThreshold(opts.GCThreshold)
	p.trigger = newGCTrigger(&p.cycles)
	p.heap.trigger = p.trigger
	if opts.Profile {
		p.profiler = NewProfiler()
	}

	p.consts = make([]Value, len(prog.Consts))
	for i, c := range prog.Consts {
		p.consts[i] = p.materialize(c)
	}

	for i, decl := range prog.Tables {
		out, err := newOutputter(p, decl, opts.Seed+int64(i))
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", decl.Name, err)
		}
		p.outputs = append(p.outputs, out)
	}

	g := prog.Global()
	if g.FrameSize()+g.MaxTemps > len(p.stack) {
		return nil, fmt.Errorf("%w: global frame needs %d slots, have %d", ErrStackOverflow, g.FrameSize()+g.MaxTemps, len(p.stack))
	}
	log.Debugf("proc %s: %d tables, %d constants", p.ID, len(p.outputs), len(p.consts))
	return p, nil
}

func (p *Proc) materialize(c Const) Value {
	h := p.heap
	switch c.Type.Kind {
	case types.Bool:
		return NewBool(c.Int != 0)
	case types.Int:
		return h.NewInt(c.Int)
	case types.UInt:
		return h.NewUInt(c.Bits)
	case types.Float:
		return h.NewFloat(floatFrom(c.Bits))
	case types.Fingerprint:
		return h.NewFingerprint(c.Bits)
	case types.Time:
		return h.NewTime(c.Bits)
	case types.String:
		return h.NewString(string(c.Bytes))
	case types.Bytes:
		return h.NewBytes(c.Bytes)
	}
	panic("vm: bad constant type " + c.Type.String())
}

// Program returns the program being run.
func (p *Proc) Program() *Program { return p.prog }

// Heap returns the Proc's heap.
func (p *Proc) Heap() *Heap { return p.heap }

// Status returns the status of the last Execute.
func (p *Proc) Status() Status { return p.status }

// TrapInfo returns the message of the last trap or failure.
func (p *Proc) TrapInfo() string { return p.trapInfo }

// TrapCount returns the number of traps recovered during the current run.
func (p *Proc) TrapCount() int { return p.trapCount }

// Steps returns the number of instructions executed so far.
func (p *Proc) Steps() int64 { return p.steps }

// Profiler returns the sampling profiler, or nil when profiling is off.
func (p *Proc) Profiler() *Profiler { return p.profiler }

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Initialize builds the global frame and runs the static initialisers.
func (p *Proc) Initialize() error {
	g := p.prog.Global()
	p.dropTo(0)
	p.fp, p.bp = 0, 0
	p.stack[0] = small(0)
	p.stack[1] = small(0)
	p.stack[2] = small(0)
	p.serial = 1
	p.stack[frameHeader] = small(p.serial)
	for i := frameHeader + 1; i < g.FrameSize(); i++ {
		p.stack[i] = Undef
	}
	p.sp = g.FrameSize()
	p.pc = p.prog.InitPC
	p.status = Running
	p.trapInfo = ""
	p.initializing = true
	defer func() { p.initializing = false }()

	for {
		st := p.Execute(p.opts.CycleBudget)
		if st == Suspended {
			continue
		}
		if st == Failed {
			return fmt.Errorf("%w: %s", ErrInitFailed, p.trapInfo)
		}
		break
	}
	p.initialized = true
	return nil
}

// SetupRun resets the per-record state: non-static globals become
// undefined and the predefined input variables receive input and aux.
func (p *Proc) SetupRun(input, aux []byte) error {
	if !p.initialized {
		return ErrNotInitialized
	}
	g := p.prog.Global()
	p.dropTo(g.FrameSize())
	p.fp, p.bp = 0, 0
	for slot := 1; slot <= g.NLocals; slot++ {
		if slot < len(p.prog.Statics) && p.prog.Statics[slot] {
			continue
		}
		i := frameHeader + slot
		p.heap.DecRef(p.stack[i])
		p.stack[i] = Undef
	}
	if p.prog.InputSlot > 0 {
		p.stack[frameHeader+p.prog.InputSlot] = p.heap.NewBytes(input)
	}
	if p.prog.AuxSlot > 0 {
		p.stack[frameHeader+p.prog.AuxSlot] = p.heap.NewBytes(aux)
	}
	p.pc = p.prog.MainPC
	p.status = Running
	p.trapInfo = ""
	p.trapCount = 0
	p.traceShown = false
	return nil
}

// Run executes the current record to completion.
func (p *Proc) Run() Status {
	for {
		st := p.Execute(p.opts.CycleBudget)
		if st != Suspended {
			return st
		}
	}
}

// ---------------------------------------------------------------------------
// Additional inputs
// ---------------------------------------------------------------------------

// AddInput makes data available to getadditionalinput(name). It is a
// no-op once the program has locked its inputs.
func (p *Proc) AddInput(name string, data []byte) {
	if p.inputsLocked {
		return
	}
	p.inputs[name] = data
}

// ClearInputs drops every additional input. Unlike AddInput it works after
// the inputs are locked; the lock itself stays in place.
func (p *Proc) ClearInputs() {
	p.inputs = make(map[string][]byte)
}

// InputsLocked reports whether lockadditionalinput has run.
func (p *Proc) InputsLocked() bool { return p.inputsLocked }

// ---------------------------------------------------------------------------
// Failure and stack traces
// ---------------------------------------------------------------------------

// fail stops the run. Trap ranges are not consulted.
func (p *Proc) fail(msg string) {
	p.status = Failed
	p.trapInfo = msg
	p.cycles = 0
	if !p.traceShown {
		p.traceShown = true
		trace := p.StackTrace()
		log.Errorf("%s\n%s", msg, strings.Join(trace, "\n"))
		fmt.Fprintf(p.opts.Stderr, "szl: %s\n", msg)
		for _, line := range trace {
			fmt.Fprintf(p.opts.Stderr, "  %s\n", line)
		}
	}
}

// Frame describes one activation on the stack.
type Frame struct {
	Function string
	Line     int
	FP       int
}

// Frames returns the active frames, innermost first.
func (p *Proc) Frames() []Frame {
	var frames []Frame
	fp, pc := p.fp, p.lastPC
	for {
		_, fn := p.prog.FuncAt(pc)
		frames = append(frames, Frame{Function: fn.Name, Line: p.prog.LineAt(pc), FP: fp})
		if fp == 0 {
			break
		}
		pc = int(p.stack[fp+2].payload()) - 1
		fp = int(p.stack[fp].payload())
	}
	return frames
}

// StackTrace renders Frames for diagnostics.
func (p *Proc) StackTrace() []string {
	frames := p.Frames()
	lines := make([]string, len(frames))
	for i, f := range frames {
		lines[i] = fmt.Sprintf("#%d %s at %s:%d", i, f.Function, p.prog.File, f.Line)
	}
	return lines
}

// ---------------------------------------------------------------------------
// Line counts
// ---------------------------------------------------------------------------

// LineCounts returns execution counts by source line.
func (p *Proc) LineCounts() map[int]int64 {
	counts := make(map[int]int64)
	for i, n := range p.counters {
		if n > 0 {
			counts[p.prog.Counters[i]] += n
		}
	}
	return counts
}

// ResetLineCounts zeroes the line counters.
func (p *Proc) ResetLineCounts() {
	for i := range p.counters {
		p.counters[i] = 0
	}
}
