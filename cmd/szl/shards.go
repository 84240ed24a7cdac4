package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/google/szl-sub002/shard"
)

// handleMergeCommand processes the `szl merge` subcommand.
// Usage:
//
//	szl merge -o all.shard a.shard b.shard ...
func (c *cli) handleMergeCommand(args []string) int {
	fs := flag.NewFlagSet("merge", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	out := fs.String("o", "", "Output shard file")
	if err := fs.Parse(args); err != nil {
		return exitCompile
	}
	if *out == "" || fs.NArg() == 0 {
		c.errorf("usage: szl merge -o out.shard shard...")
		return exitCompile
	}

	merged, code := c.combine(fs.Args())
	if merged == nil {
		return code
	}
	if err := writeShard(*out, merged); err != nil {
		c.errorf("%v", err)
		return exitRuntime
	}
	c.infof("merged %d shards into %s", fs.NArg(), *out)
	return exitOK
}

// combine reads and merges shard files.
func (c *cli) combine(paths []string) (*shard.Shard, int) {
	shards := make([]*shard.Shard, 0, len(paths))
	for _, p := range paths {
		s, err := readShard(p)
		if err != nil {
			c.errorf("%v", err)
			return nil, exitCompile
		}
		shards = append(shards, s)
	}
	merged, err := shard.Combine(shards...)
	if err != nil {
		c.errorf("%v", err)
		return nil, exitRuntime
	}
	return merged, exitOK
}

// handleDisplayCommand processes the `szl display` subcommand.
// Usage:
//
//	szl display a.shard b.shard ...          name[index] = value lines
//	szl display -format yaml a.shard ...     one YAML document per table
func (c *cli) handleDisplayCommand(args []string) int {
	fs := flag.NewFlagSet("display", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	format := fs.String("format", "text", "Output format: text or yaml")
	if err := fs.Parse(args); err != nil {
		return exitCompile
	}
	if fs.NArg() == 0 {
		c.errorf("usage: szl display [-format text|yaml] shard...")
		return exitCompile
	}
	merged, code := c.combine(fs.Args())
	if merged == nil {
		return code
	}
	return c.display(merged, *format)
}

// yamlTable is the YAML rendering of one table.
type yamlTable struct {
	Table string    `yaml:"table"`
	Type  string    `yaml:"type"`
	Rows  []yamlRow `yaml:"rows,omitempty"`
}

type yamlRow struct {
	Index string `yaml:"index"`
	Value string `yaml:"value"`
}

func (c *cli) display(s *shard.Shard, format string) int {
	if format != "text" && format != "yaml" {
		c.errorf("unknown format %q", format)
		return exitCompile
	}
	loc, err := c.m.Location()
	if err != nil {
		loc = time.UTC
	}
	if format == "text" {
		lines, err := s.Display(loc)
		if err != nil {
			c.errorf("%v", err)
			return exitRuntime
		}
		for _, l := range lines {
			fmt.Fprintln(c.stdout, l)
		}
		return exitOK
	}

	enc := yaml.NewEncoder(c.stdout)
	enc.SetIndent(2)
	defer enc.Close()
	for i := range s.Tables {
		t := &s.Tables[i]
		lines, err := t.Display(loc)
		if err != nil {
			c.errorf("%v", err)
			return exitRuntime
		}
		doc := yamlTable{Table: t.Name, Type: t.Type}
		for _, l := range lines {
			idx, val, _ := strings.Cut(strings.TrimPrefix(l, t.Name), " = ")
			doc.Rows = append(doc.Rows, yamlRow{Index: idx, Value: val})
		}
		if err := enc.Encode(&doc); err != nil {
			c.errorf("encoding %s: %v", t.Name, err)
			return exitRuntime
		}
	}
	return exitOK
}
