package main

import (
	"flag"
	"os"
	"strconv"

	"github.com/beam-cloud/vafs/pkg/cache"
)

const (
	defaultRegion = "us-east-1"
)

// shellConfig configures the `shell` subcommand, following cmd/clipctl's
// flag.NewFlagSet + getEnv convention rather than a config-file framework.
type shellConfig struct {
	Bucket    string
	Region    string
	Endpoint  string
	CacheSize int
}

func parseShellConfig(args []string) shellConfig {
	fs := flag.NewFlagSet("shell", flag.ExitOnError)
	var cfg shellConfig
	fs.StringVar(&cfg.Bucket, "bucket", getEnvString("VAFS_BUCKET", ""), "Bucket to start the shell in (optional; default is root)")
	fs.StringVar(&cfg.Region, "region", getEnvString("VAFS_REGION", defaultRegion), "Object store region")
	fs.StringVar(&cfg.Endpoint, "endpoint", getEnvString("VAFS_ENDPOINT", ""), "S3-compatible endpoint override")
	fs.IntVar(&cfg.CacheSize, "cache-size", getEnvInt("VAFS_CACHE_SIZE", cache.DefaultCapacity), "Archive index cache capacity")
	_ = fs.Parse(args)
	return cfg
}

// seedConfig configures the `seed` subcommand.
type seedConfig struct {
	Dir    string
	Bucket string
}

func parseSeedConfig(args []string) seedConfig {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	var cfg seedConfig
	fs.StringVar(&cfg.Dir, "dir", getEnvString("VAFS_SEED_DIR", "."), "Local directory tree to load as fixture objects")
	fs.StringVar(&cfg.Bucket, "bucket", getEnvString("VAFS_SEED_BUCKET", "local"), "Bucket name the fixture objects are loaded under")
	_ = fs.Parse(args)
	return cfg
}

func getEnvString(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}
