// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wolfgrimmm/comfyui-runpod-installer/internal/config"
)

func defaultCatalogPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "modeldl-catalog.yaml")
}

func newCatalogCmd(ro *RootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the model catalog",
	}

	cmd.AddCommand(newCatalogInitCmd())
	cmd.AddCommand(newCatalogShowCmd(ro))
	cmd.AddCommand(newCatalogPathCmd())

	return cmd
}

func newCatalogInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the built-in catalog to a file for editing",
		Long: `Writes the built-in model catalog to ~/.config/modeldl-catalog.yaml.

Edit the file to add your own model sets, then pass it with --catalog.
Entries in the file are merged over the built-in catalog.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultCatalogPath()

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("catalog file already exists: %s\nUse --force to overwrite", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("could not create config directory: %w", err)
			}

			data, err := yaml.Marshal(config.DefaultCatalog())
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("could not write catalog file: %w", err)
			}

			fmt.Printf("Created catalog file: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing catalog file")
	return cmd
}

func newCatalogShowCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(ro)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cat)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func newCatalogPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the default catalog file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(defaultCatalogPath())
		},
	}
}
