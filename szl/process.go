package szl

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/google/szl-sub002/manifest"
	"github.com/google/szl-sub002/shard"
	"github.com/google/szl-sub002/vm"
)

// RunError reports a record whose run ended in FAILED.
type RunError struct {
	Process uuid.UUID
	Info    string
}

func (e *RunError) Error() string {
	return fmt.Sprintf("process %s failed: %s", e.Process, e.Info)
}

// Process runs an Executable over records. It is not safe for concurrent
// use.
type Process struct {
	exe     *Executable
	proc    *vm.Proc
	handler ErrorHandler
}

// NewProcess instantiates exe. Run failures are passed to handler.
func NewProcess(exe *Executable, handler ErrorHandler) (*Process, error) {
	if !exe.IsExecutable() {
		return nil, fmt.Errorf("%w: %s", ErrNotExecutable, exe.name)
	}
	p, err := vm.NewProc(exe.prog, exe.opts.VM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", exe.name, err)
	}
	log.Debugf("process %s for %s", p.ID, exe.name)
	return &Process{exe: exe, proc: p, handler: handler}, nil
}

// ID identifies the process in shards it produces.
func (p *Process) ID() uuid.UUID { return p.proc.ID }

// Executable returns the program being run.
func (p *Process) Executable() *Executable { return p.exe }

// Proc gives access to the interpreter state.
func (p *Process) Proc() *vm.Proc { return p.proc }

// Initialize runs the static initialisers.
func (p *Process) Initialize() error {
	if err := p.proc.Initialize(); err != nil {
		p.report(err)
		return err
	}
	return nil
}

// SetupRun prepares a run over one record.
func (p *Process) SetupRun(input, aux []byte) error {
	return p.proc.SetupRun(input, aux)
}

// Run executes the current record to completion.
func (p *Process) Run() vm.Status {
	return p.finish(p.proc.Run())
}

// RunRecord sets up and runs one record.
func (p *Process) RunRecord(input, aux []byte) (vm.Status, error) {
	if err := p.SetupRun(input, aux); err != nil {
		return vm.Failed, err
	}
	return p.Run(), nil
}

// Execute runs at most maxSteps instructions. Execute(0) suspends
// without running anything.
func (p *Process) Execute(maxSteps int) vm.Status {
	return p.finish(p.proc.Execute(maxSteps))
}

func (p *Process) finish(st vm.Status) vm.Status {
	if st == vm.Failed {
		p.report(&RunError{Process: p.proc.ID, Info: p.proc.TrapInfo()})
	}
	return st
}

func (p *Process) report(err error) {
	log.Errorf("%s: %s", p.exe.name, err)
	if p.handler != nil {
		p.handler(err)
	}
}

// Status returns the status of the last Execute.
func (p *Process) Status() vm.Status { return p.proc.Status() }

// TrapInfo returns the message of the last trap of the current run.
func (p *Process) TrapInfo() string { return p.proc.TrapInfo() }

// RegisterEmitter routes emits to the named table to e.
func (p *Process) RegisterEmitter(name string, e vm.Emitter) error {
	return p.proc.RegisterEmitter(name, e)
}

// AddInput makes data available to getadditionalinput(name).
func (p *Process) AddInput(name string, data []byte) { p.proc.AddInput(name, data) }

// ClearInputs drops every additional input.
func (p *Process) ClearInputs() { p.proc.ClearInputs() }

// AddInputs loads the [inputs] files of m.
func (p *Process) AddInputs(m *manifest.Manifest) error {
	inputs, err := m.ResolveInputs()
	if err != nil {
		return err
	}
	for _, in := range inputs {
		p.proc.AddInput(in.Name, in.Data)
	}
	return nil
}

// Flush serializes and resets every aggregated table.
func (p *Process) Flush() []vm.TableState { return p.proc.Flush() }

// Shard flushes every aggregated table into a shard.
func (p *Process) Shard() *shard.Shard {
	return shard.New(p.exe.name, p.proc.ID, p.proc.Flush())
}

// Merge folds a peer's flushed entry into the named table.
func (p *Process) Merge(table string, key, payload []byte) error {
	return p.proc.Merge(table, key, payload)
}

// MergeShard folds every entry of sh into the process tables.
func (p *Process) MergeShard(sh *shard.Shard) error {
	return sh.MergeInto(p)
}

// Display renders the aggregated tables as "name[index] = value" lines.
func (p *Process) Display() ([]string, error) { return p.proc.Display() }

// Debugger returns a debugger attached to the process.
func (p *Process) Debugger() *vm.Debugger { return vm.NewDebugger(p.proc) }
