package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/fatih/color"

	"github.com/beam-cloud/vafs/pkg/vafs"
)

var (
	dirColor     = color.New(color.FgBlue, color.Bold)
	archiveColor = color.New(color.FgGreen, color.Bold)
	errColor     = color.New(color.FgRed)
)

// shell holds the REPL's single piece of mutable state: where the session
// currently sits in the node tree.
type shell struct {
	facade  *vafs.Facade
	current *vafs.Node
}

func runREPL(f *vafs.Facade, start *vafs.Node) {
	sh := &shell{facade: f, current: start}

	p := prompt.New(
		sh.execute,
		sh.complete,
		prompt.OptionPrefix(sh.promptPrefix()),
		prompt.OptionLivePrefix(sh.livePrefix),
		prompt.OptionTitle("vafsh"),
	)
	p.Run()
}

func (s *shell) livePrefix() (string, bool) {
	return s.promptPrefix(), true
}

func (s *shell) promptPrefix() string {
	return fmt.Sprintf("vafsh:%s> ", nodePath(s.current))
}

func (s *shell) execute(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmd, args := fields[0], fields[1:]

	ctx := context.Background()
	var err error

	switch cmd {
	case "pwd":
		fmt.Println(nodePath(s.current))
	case "ls":
		err = s.ls(ctx, args)
	case "cd":
		err = s.cd(ctx, args)
	case "cat":
		err = s.cat(ctx, args)
	case "exit", "quit":
		os.Exit(0)
	default:
		err = fmt.Errorf("unknown command: %s", cmd)
	}

	if err != nil {
		errColor.Fprintf(defaultOut, "error: %v\n", err)
	}
}

func (s *shell) ls(ctx context.Context, args []string) error {
	target := s.current
	if len(args) > 0 {
		n, err := s.facade.Resolve(ctx, s.current, args[0])
		if err != nil {
			return err
		}
		target = n
	}

	entries, err := s.facade.ListNode(ctx, target)
	if err != nil {
		return err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	for _, e := range entries {
		switch {
		case e.IsDir:
			dirColor.Println(e.Name + "/")
		case e.IsArchive:
			archiveColor.Println(e.Name)
		default:
			fmt.Printf("%s\t%d\n", e.Name, e.Size)
		}
	}
	return nil
}

func (s *shell) cd(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return nil
	}
	n, err := s.facade.Resolve(ctx, s.current, args[0])
	if err != nil {
		return err
	}
	if !n.Navigable() {
		return fmt.Errorf("%s: not a directory", args[0])
	}
	s.current = n
	return nil
}

func (s *shell) cat(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: cat <path>")
	}

	n, err := s.facade.Resolve(ctx, s.current, args[0])
	if err != nil {
		return err
	}

	var data []byte
	switch n.Kind {
	case vafs.KindObject:
		data, err = s.facade.ReadObject(ctx, n)
	case vafs.KindArchiveEntry:
		if n.EntryIsDir {
			return fmt.Errorf("%s: is a directory", args[0])
		}
		data, err = s.facade.Read(ctx, n, "")
	default:
		return fmt.Errorf("%s: not a file", args[0])
	}
	if err != nil {
		return err
	}

	_, err = defaultOut.Write(data)
	return err
}

func (s *shell) complete(d prompt.Document) []prompt.Suggest {
	if d.TextBeforeCursor() == "" {
		return nil
	}
	cmds := []prompt.Suggest{
		{Text: "ls", Description: "list the current or given path"},
		{Text: "cd", Description: "change directory, descending into archives transparently"},
		{Text: "cat", Description: "print a file's contents"},
		{Text: "pwd", Description: "print the current path"},
		{Text: "exit", Description: "leave the shell"},
	}
	return prompt.FilterHasPrefix(cmds, d.GetWordBeforeCursor(), true)
}

var defaultOut = os.Stdout

func nodePath(n *vafs.Node) string {
	switch n.Kind {
	case vafs.KindRoot:
		return "/"
	case vafs.KindBucket:
		return "/" + n.Bucket
	case vafs.KindPrefix:
		return "/" + n.Bucket + "/" + n.Prefix
	case vafs.KindObject:
		return "/" + n.Bucket + "/" + n.Key
	case vafs.KindArchive:
		return "/" + n.Bucket + "/" + n.Key
	case vafs.KindArchiveEntry:
		return "/" + n.Bucket + "/" + n.Key + "!" + n.EntryPath
	default:
		return "/"
	}
}
