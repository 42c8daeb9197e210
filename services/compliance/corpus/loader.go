// Copyright (C) 2025 GeoLens AI (dev@geolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package corpus loads the on-disk regulation tree.
//
// Layout: each immediate child of the corpus root is one regulation
// collection (jurisdiction or law). A child may carry two descriptor files:
// context.txt (free-text description of what the directory regulates, used
// by the relevance scoper) and format.txt (glob pattern selecting member
// files, default *.txt). Every other matching file is a regulation document
// keyed by filename.
//
// Loading is deliberately non-fatal: a missing root or unreadable descriptor
// degrades to empty/default values with a warning, so the classification
// pipeline can run against whatever corpus is actually present.
package corpus

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	contextFile = "context.txt"
	formatFile  = "format.txt"

	// DefaultPattern matches member files when format.txt is absent.
	DefaultPattern = "*.txt"
)

// Directory is one regulation collection: its id (the directory name), the
// human-readable context for the scoper, the file-matching pattern, and the
// ordered member file names. Immutable after load.
type Directory struct {
	ID      string
	Context string
	Pattern string
	Files   []string

	path string
}

// ReadFile returns the full content of a member document.
func (d *Directory) ReadFile(name string) (string, error) {
	content, err := os.ReadFile(filepath.Join(d.path, name))
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// LoadByDirectory maps each immediate subdirectory of root to its Directory.
//
// A missing root returns an empty map with a warning; the rest of the
// pipeline must tolerate "no regulations loaded". Descriptor files are
// excluded from the member list even when they match the pattern.
func LoadByDirectory(root string) map[string]*Directory {
	dirs := make(map[string]*Directory)

	entries, err := os.ReadDir(root)
	if err != nil {
		slog.Warn("Regulations directory not found, loading nothing", "path", root, "error", err)
		return dirs
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		subdir := filepath.Join(root, entry.Name())

		context := ""
		if raw, err := os.ReadFile(filepath.Join(subdir, contextFile)); err == nil {
			context = strings.TrimSpace(string(raw))
		} else {
			slog.Warn("Could not read directory context, using empty context",
				"directory", entry.Name(), "error", err)
		}

		pattern := DefaultPattern
		if raw, err := os.ReadFile(filepath.Join(subdir, formatFile)); err == nil {
			if p := strings.TrimSpace(string(raw)); p != "" {
				pattern = p
			}
		} else {
			slog.Warn("Could not read directory format, using default pattern",
				"directory", entry.Name(), "pattern", DefaultPattern, "error", err)
		}

		files := listMatching(subdir, pattern)
		dirs[entry.Name()] = &Directory{
			ID:      entry.Name(),
			Context: context,
			Pattern: pattern,
			Files:   files,
			path:    subdir,
		}
	}

	slog.Info("Loaded regulation corpus", "root", root, "directories", len(dirs))
	return dirs
}

// listMatching enumerates files in dir matching the glob pattern, excluding
// the descriptor files, in sorted order.
func listMatching(dir, pattern string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Warn("Could not list regulation directory", "path", dir, "error", err)
		return nil
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == contextFile || name == formatFile {
			continue
		}
		ok, err := filepath.Match(pattern, name)
		if err != nil {
			// Bad pattern in format.txt: fall back to the default once.
			slog.Warn("Invalid format pattern, falling back to default",
				"pattern", pattern, "error", err)
			return listMatching(dir, DefaultPattern)
		}
		if ok {
			files = append(files, name)
		}
	}
	sort.Strings(files)
	return files
}

// LoadFlat recursively loads every regulation text file under root into a
// path→content map.
//
// When locationFilter is non-empty, only files whose containing directory
// name contains the filter (case-insensitive) are loaded. Unreadable files
// are logged and skipped.
func LoadFlat(root, locationFilter string) map[string]string {
	docs := make(map[string]string)
	if _, err := os.Stat(root); err != nil {
		slog.Warn("Regulations directory not found", "path", root, "error", err)
		return docs
	}

	filter := strings.ToLower(locationFilter)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			slog.Warn("Skipping unreadable corpus entry", "path", path, "error", err)
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".txt") {
			return nil
		}
		if d.Name() == contextFile || d.Name() == formatFile {
			return nil
		}
		if filter != "" {
			folder := strings.ToLower(filepath.Base(filepath.Dir(path)))
			if !strings.Contains(folder, filter) {
				return nil
			}
		}
		content, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("Error reading regulation file", "path", path, "error", err)
			return nil
		}
		docs[path] = string(content)
		return nil
	})
	if err != nil {
		slog.Warn("Corpus walk terminated early", "root", root, "error", err)
	}
	return docs
}
