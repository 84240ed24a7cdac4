package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/google/szl-sub002/shard"
	"github.com/google/szl-sub002/szl"
	"github.com/google/szl-sub002/tablestore"
	"github.com/google/szl-sub002/vm"
)

// maxRecord bounds the length of one input line.
const maxRecord = 16 << 20

// handleRunCommand processes the `szl run` subcommand.
// Usage:
//
//	szl run prog.szl [files...]           Run over lines of files (or stdin), print tables
//	szl run -o out.shard prog.szl files   Write the tables to a shard instead
//	szl run -store prog.szl files         Merge the tables into the table store
//	szl run -d prog.szl                   Print the compiled code and exit
func (c *cli) handleRunCommand(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	out := fs.String("o", "", "Write the flushed tables to this shard file")
	store := fs.Bool("store", false, "Merge the flushed tables into the table store")
	disasm := fs.Bool("d", false, "Disassemble the program and exit")
	if err := fs.Parse(args); err != nil {
		return exitCompile
	}
	if fs.NArg() < 1 {
		c.errorf("usage: szl run [-o shard] [-store] [-d] prog.szl [files...]")
		return exitCompile
	}

	path := fs.Arg(0)
	src, err := os.ReadFile(path)
	if err != nil {
		c.errorf("%v", err)
		return exitCompile
	}
	opts, err := szl.OptionsFromManifest(c.m)
	if err != nil {
		c.errorf("%v", err)
		return exitCompile
	}
	opts.VM.Stdout = c.stdout
	opts.VM.Stderr = c.stderr

	exe := szl.NewExecutable(path, string(src), opts, func(err error) { c.errorf("%v", err) })
	if !exe.IsExecutable() {
		return exitCompile
	}
	if *disasm {
		fmt.Fprint(c.stdout, exe.Disassemble())
		return exitOK
	}

	proc, err := szl.NewProcess(exe, nil)
	if err != nil {
		c.errorf("%v", err)
		return exitCompile
	}
	if err := proc.AddInputs(c.m); err != nil {
		c.errorf("%v", err)
		return exitCompile
	}
	if err := proc.Initialize(); err != nil {
		c.errorf("%v", err)
		return exitRuntime
	}

	records, failed, err := c.runFiles(proc, fs.Args()[1:])
	if err != nil {
		c.errorf("%v", err)
		return exitCompile
	}
	c.infof("%d records, %d failed", records, failed)
	c.reportProfile(proc)

	switch {
	case *out != "":
		if err := writeShard(*out, proc.Shard()); err != nil {
			c.errorf("%v", err)
			return exitRuntime
		}
	case *store:
		st, err := tablestore.Open(c.m.StorePath())
		if err != nil {
			c.errorf("%v", err)
			return exitRuntime
		}
		defer st.Close()
		if err := st.Put(proc.Shard()); err != nil {
			c.errorf("%v", err)
			return exitRuntime
		}
	default:
		lines, err := proc.Display()
		if err != nil {
			c.errorf("%v", err)
			return exitRuntime
		}
		for _, l := range lines {
			fmt.Fprintln(c.stdout, l)
		}
	}

	if failed > 0 {
		return exitRuntime
	}
	return exitOK
}

// runFiles runs proc over every line of files, or of stdin when there are
// none. A failed record is reported and the run continues.
func (c *cli) runFiles(proc *szl.Process, files []string) (records, failed int, err error) {
	each := func(r io.Reader, name string) error {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64<<10), maxRecord)
		for sc.Scan() {
			records++
			st, err := proc.RunRecord(sc.Bytes(), nil)
			if err != nil {
				return err
			}
			if st == vm.Failed {
				failed++
				c.errorf("%s:%d: %s", name, records, proc.TrapInfo())
			}
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		return nil
	}

	if len(files) == 0 {
		return records, failed, each(os.Stdin, "<stdin>")
	}
	for _, name := range files {
		f, err := os.Open(name)
		if err != nil {
			return records, failed, err
		}
		err = each(f, name)
		f.Close()
		if err != nil {
			return records, failed, err
		}
	}
	return records, failed, nil
}

func (c *cli) reportProfile(proc *szl.Process) {
	prof := proc.Proc().Profiler()
	if prof == nil {
		return
	}
	fmt.Fprintf(c.stderr, "profile: %d samples\n", prof.Stats().TotalSamples)
	for _, fs := range prof.TopFunctions(10) {
		fmt.Fprintf(c.stderr, "  %8d  %s\n", fs.Samples, fs.Name)
	}
	counts := proc.Proc().LineCounts()
	if len(counts) == 0 {
		return
	}
	lines := make([]int, 0, len(counts))
	for l := range counts {
		lines = append(lines, l)
	}
	sort.Ints(lines)
	fmt.Fprintf(c.stderr, "line counts:\n")
	for _, l := range lines {
		fmt.Fprintf(c.stderr, "  %6d  %d\n", l, counts[l])
	}
}

func writeShard(path string, s *shard.Shard) error {
	data, err := shard.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding shard: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing shard: %w", err)
	}
	return nil
}

func readShard(path string) (*shard.Shard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := shard.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}
