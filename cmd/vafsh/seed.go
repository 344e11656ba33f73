package main

import (
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"

	"github.com/beam-cloud/vafs/pkg/store"
)

// seedFromDir walks a local directory tree with godirwalk and loads every
// regular file into ms under bucket, keyed by its path relative to dir —
// a local stand-in for objects a real object store would serve.
func seedFromDir(ms *store.MemStore, bucket, dir string) error {
	return godirwalk.Walk(dir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}

			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)

			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			ms.Put(bucket, rel, data)
			return nil
		},
		Unsorted: true,
	})
}
