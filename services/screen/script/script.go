// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package script renders the per-trial shell scripts handed to the runner.
// Every trial runs external crystallographic programs through a generated
// script; the script owns its environment, its stdin blocks, and a private
// scratch directory so concurrent trials never share scratch state.
package script

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// scratchEnv is the environment variable the external programs read for
// their scratch directory.
const scratchEnv = "CCP4_SCR"

// heredocMarker delimits stdin blocks in rendered scripts.
const heredocMarker = "EOF-xtalpipe"

// Script is an ordered sequence of shell steps for one trial, written to
// <dir>/<stem>.sh with a companion <dir>/<stem>.log the runner captures
// output into.
type Script struct {
	dir   string
	stem  string
	steps []string

	scratch string
}

// New starts an empty script. stem is the file name without extension,
// typically "<stage prefix><candidate code>".
func New(dir, stem string) *Script {
	return &Script{dir: dir, stem: stem}
}

// Path is where Write places the script.
func (s *Script) Path() string { return filepath.Join(s.dir, s.stem+".sh") }

// LogPath is the companion log file the runner redirects output to. The
// script itself never writes it; its appearance signals completion.
func (s *Script) LogPath() string { return filepath.Join(s.dir, s.stem+".log") }

// WithScratch gives the script a private scratch directory under base. The
// rendered script exports it over the ambient scratch variable at the top,
// and removes it and restores the original value at the bottom.
func (s *Script) WithScratch(base string) *Script {
	s.scratch = filepath.Join(base, s.stem+"_"+uuid.NewString())
	return s
}

// Append adds a raw shell line.
func (s *Script) Append(line string) *Script {
	s.steps = append(s.steps, line)
	return s
}

// Export adds an environment variable assignment.
func (s *Script) Export(key, value string) *Script {
	return s.Append(fmt.Sprintf("export %s=%q", key, value))
}

// Mkdir adds a directory creation step.
func (s *Script) Mkdir(path string) *Script {
	return s.Append(fmt.Sprintf("mkdir -p %q", path))
}

// Remove adds a recursive removal step.
func (s *Script) Remove(path string) *Script {
	return s.Append(fmt.Sprintf("rm -rf %q", path))
}

// Command adds a program invocation.
func (s *Script) Command(program string, args ...string) *Script {
	return s.Append(commandLine(program, args))
}

// CommandStdin adds a program invocation fed a heredoc stdin block. The
// block is passed through verbatim, one keyword per line the way the
// crystallographic programs expect.
func (s *Script) CommandStdin(program string, args []string, stdin string) *Script {
	var b strings.Builder
	b.WriteString(commandLine(program, args))
	b.WriteString(" <<" + heredocMarker + "\n")
	b.WriteString(strings.TrimRight(stdin, "\n"))
	b.WriteString("\n" + heredocMarker)
	return s.Append(b.String())
}

// Render produces the full script text.
func (s *Script) Render() string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("set -u\n\n")

	if s.scratch != "" {
		fmt.Fprintf(&b, "_scr_orig=\"${%s:-}\"\n", scratchEnv)
		fmt.Fprintf(&b, "export %s=%q\n", scratchEnv, s.scratch)
		fmt.Fprintf(&b, "mkdir -p \"$%s\"\n\n", scratchEnv)
	}

	for _, step := range s.steps {
		b.WriteString(step)
		b.WriteString("\n")
	}

	if s.scratch != "" {
		fmt.Fprintf(&b, "\nrm -rf %q\n", s.scratch)
		fmt.Fprintf(&b, "export %s=\"$_scr_orig\"\n", scratchEnv)
	}
	return b.String()
}

// Write renders the script to Path, creating the directory if needed. An
// existing script at the same path is replaced, so regenerating a chunk is
// safe.
func (s *Script) Write() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create script dir: %w", err)
	}
	if err := os.WriteFile(s.Path(), []byte(s.Render()), 0o755); err != nil {
		return fmt.Errorf("write script %s: %w", s.Path(), err)
	}
	return nil
}

func commandLine(program string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, program)
	for _, a := range args {
		if strings.ContainsAny(a, " \t\"'$") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}
