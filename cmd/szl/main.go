// szl CLI - runs szl programs over records and manages their table output
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/google/szl-sub002/manifest"
)

// Exit codes.
const (
	exitOK      = 0
	exitCompile = 1 // compile errors, usage errors, bad input files
	exitRuntime = 2 // a record failed, a merge failed
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// cli carries what every subcommand needs.
type cli struct {
	stdout  io.Writer
	stderr  io.Writer
	m       *manifest.Manifest
	verbose bool
	color   bool
}

func (c *cli) errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if c.color {
		fmt.Fprintf(c.stderr, "\x1b[31merror:\x1b[0m %s\n", msg)
	} else {
		fmt.Fprintf(c.stderr, "error: %s\n", msg)
	}
}

func (c *cli) infof(format string, args ...interface{}) {
	if c.verbose {
		fmt.Fprintf(c.stderr, format+"\n", args...)
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("szl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbose := fs.Bool("v", false, "Verbose output")
	dir := fs.String("C", ".", "Directory to search for szl.toml")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: szl [options] <command> [args...]\n\n")
		fmt.Fprintf(stderr, "Commands:\n")
		fmt.Fprintf(stderr, "  run [-o shard] [-d] [-store] prog.szl [files...]  Run a program over input lines\n")
		fmt.Fprintf(stderr, "  merge -o out shard...                             Merge shards into one\n")
		fmt.Fprintf(stderr, "  display [-format text|yaml] shard...              Print merged table contents\n")
		fmt.Fprintf(stderr, "  store put shard...                                Merge shards into the table store\n")
		fmt.Fprintf(stderr, "  store show [table...]                             Print stored tables\n")
		fmt.Fprintf(stderr, "  store drop table                                  Remove a stored table\n")
		fmt.Fprintf(stderr, "\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitCompile
	}

	c := &cli{stdout: stdout, stderr: stderr, verbose: *verbose}
	if f, ok := stderr.(*os.File); ok {
		c.color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	m, err := manifest.FindAndLoad(*dir)
	if err != nil {
		c.errorf("loading manifest: %v", err)
		return exitCompile
	}
	if m == nil {
		m = manifest.Default()
	}
	c.m = m
	configureLog(m, *verbose)

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return exitCompile
	}
	switch rest[0] {
	case "run":
		return c.handleRunCommand(rest[1:])
	case "merge":
		return c.handleMergeCommand(rest[1:])
	case "display":
		return c.handleDisplayCommand(rest[1:])
	case "store":
		return c.handleStoreCommand(rest[1:])
	default:
		c.errorf("unknown command: %s", rest[0])
		return exitCompile
	}
}

func configureLog(m *manifest.Manifest, verbose bool) {
	verbosity := m.Log.Verbosity
	if verbose && verbosity < 1 {
		verbosity = 1
	}
	if path := m.LogPath(); path != "" {
		commonlog.Configure(verbosity, &path)
	} else {
		commonlog.Configure(verbosity, nil)
	}
}
