// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xtalpipe/xtalpipe/pkg/validation"
)

var (
	dbCmd = &cobra.Command{
		Use:   "db",
		Short: "Manage the candidate catalogue",
	}
	dbImportCmd = &cobra.Command{
		Use:   "import [yaml file...]",
		Short: "Import candidate entries from YAML files into the catalogue",
		Long: `Reads candidate entries (code, model path, Niggli cell, bounding box,
integration radius, molecular weight) from YAML files and upserts them
into the catalogue database at --db. Invalid entries are skipped with a
warning.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runDBImport,
	}
	dbStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print catalogue entry count",
		Args:  cobra.NoArgs,
		RunE:  runDBStats,
	}
	dbGetCmd = &cobra.Command{
		Use:   "get [code]",
		Short: "Print one catalogue entry",
		Args:  cobra.ExactArgs(1),
		RunE:  runDBGet,
	}
)

func init() {
	dbCmd.AddCommand(dbImportCmd)
	dbCmd.AddCommand(dbStatsCmd)
	dbCmd.AddCommand(dbGetCmd)
	rootCmd.AddCommand(dbCmd)
}

func runDBGet(cmd *cobra.Command, args []string) error {
	code, err := validation.SanitizeCode(args[0])
	if err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	e, err := store.Get(code)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n  model: %s\n  niggli cell: %s\n  mw: %.1f Da\n  integration radius: %.1f A\n",
		e.Code, e.ModelPath, e.NiggliCell.String(), e.MolecularWeight, e.IntegrationRadius)
	return nil
}

func runDBImport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	total := 0
	for _, path := range args {
		n, err := store.ImportYAML(path, logger.Slog())
		if err != nil {
			return fmt.Errorf("importing %s: %w", path, err)
		}
		logger.Info("catalogue file imported", "path", path, "entries", n)
		total += n
	}
	fmt.Printf("imported %d entries\n", total)
	return nil
}

func runDBStats(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Len()
	if err != nil {
		return err
	}
	fmt.Printf("%d catalogue entries\n", n)
	return nil
}
