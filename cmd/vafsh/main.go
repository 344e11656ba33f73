// Command vafsh is a minimal interactive shell over the VAFS façade: it
// resolves paths, lists directories/archives, and reads files exactly as
// the external interfaces in the design describe (list_root, list, resolve,
// read), the way cmd/clipctl dispatches subcommands for the clip tool.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/vafs/pkg/cache"
	"github.com/beam-cloud/vafs/pkg/store"
	"github.com/beam-cloud/vafs/pkg/vafs"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "shell":
		shellCommand(os.Args[2:])
	case "seed":
		seedCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `vafsh - Virtual Archive Filesystem shell

Usage:
  vafsh <command> [options]

Commands:
  shell   Start an interactive shell over an object store
  seed    Build a local fixture object store from a directory tree, then
          start a shell over it (for offline exploration and demos)

Examples:
  vafsh shell --bucket my-bucket --region us-east-1
  vafsh seed --dir ./testdata --bucket demo
`)
}

func shellCommand(args []string) {
	cfg := parseShellConfig(args)

	st, err := store.NewS3Store(context.Background(), store.S3StoreOpts{Region: cfg.Region, Endpoint: cfg.Endpoint})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct object store client")
	}

	f, err := vafs.New(st, int64(cfg.CacheSize))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct vafs facade")
	}

	start := vafs.Root()
	if cfg.Bucket != "" {
		start = vafs.NewBucket(cfg.Bucket)
	}

	runREPL(f, start)
}

func seedCommand(args []string) {
	cfg := parseSeedConfig(args)

	ms := store.NewMemStore()
	if err := seedFromDir(ms, cfg.Bucket, cfg.Dir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Dir).Msg("failed to seed local fixture store")
	}

	f, err := vafs.New(ms, cache.DefaultCapacity)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct vafs facade")
	}

	runREPL(f, vafs.NewBucket(cfg.Bucket))
}
