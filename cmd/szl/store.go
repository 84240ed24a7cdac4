package main

import (
	"flag"

	"github.com/google/szl-sub002/shard"
	"github.com/google/szl-sub002/tablestore"
)

// handleStoreCommand processes the `szl store` subcommand. The store lives
// at [store].path of szl.toml.
// Usage:
//
//	szl store put a.shard b.shard ...     Merge shards into the store
//	szl store show [-format yaml] [t...]  Print stored tables (all if none named)
//	szl store drop table                  Remove a table
func (c *cli) handleStoreCommand(args []string) int {
	if len(args) == 0 {
		c.errorf("usage: szl store [put|show|drop] ...")
		return exitCompile
	}

	st, err := tablestore.Open(c.m.StorePath())
	if err != nil {
		c.errorf("%v", err)
		return exitRuntime
	}
	defer st.Close()

	switch args[0] {
	case "put":
		return c.handleStorePut(st, args[1:])
	case "show":
		return c.handleStoreShow(st, args[1:])
	case "drop":
		if len(args) != 2 {
			c.errorf("usage: szl store drop table")
			return exitCompile
		}
		if err := st.Drop(args[1]); err != nil {
			c.errorf("%v", err)
			return exitRuntime
		}
		return exitOK
	default:
		c.errorf("unknown store subcommand: %s", args[0])
		return exitCompile
	}
}

func (c *cli) handleStorePut(st *tablestore.Store, paths []string) int {
	if len(paths) == 0 {
		c.errorf("usage: szl store put shard...")
		return exitCompile
	}
	for _, p := range paths {
		s, err := readShard(p)
		if err != nil {
			c.errorf("%v", err)
			return exitCompile
		}
		if err := st.Put(s); err != nil {
			c.errorf("%s: %v", p, err)
			return exitRuntime
		}
		c.infof("stored %s", p)
	}
	return exitOK
}

func (c *cli) handleStoreShow(st *tablestore.Store, args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	format := fs.String("format", "text", "Output format: text or yaml")
	if err := fs.Parse(args); err != nil {
		return exitCompile
	}

	var s *shard.Shard
	if fs.NArg() == 0 {
		snap, err := st.Snapshot()
		if err != nil {
			c.errorf("%v", err)
			return exitRuntime
		}
		s = snap
	} else {
		s = &shard.Shard{Version: shard.Version, Source: st.Path()}
		for _, name := range fs.Args() {
			t, err := st.Table(name)
			if err != nil {
				c.errorf("%v", err)
				return exitRuntime
			}
			s.Tables = append(s.Tables, *t)
		}
	}
	return c.display(s, *format)
}
