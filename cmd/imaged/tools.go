package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"imaged/internal/registry"
	"imaged/internal/weights"
)

func newResolveCmd(load loadFunc) *cobra.Command {
	var lora bool
	cmd := &cobra.Command{
		Use:     "resolve REF...",
		Short:   "Download references into the local cache and print their paths",
		Example: "  imaged resolve https://example.com/dreamshaper_8.safetensors\n  imaged resolve --lora https://example.com/ink.safetensors",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			dir := cfg.CheckpointsDir
			if lora {
				dir = cfg.LorasDir
			}
			r := weights.New(dir, weights.Options{UserAgent: cfg.UserAgent, Logger: newLogger(cfg, os.Stderr)})
			for _, ref := range args {
				p, err := r.Resolve(cmd.Context(), ref)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&lora, "lora", false, "Resolve into the overlay directory")
	return cmd
}

func newModelsCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List local checkpoints as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			reg, err := registry.LoadDir(cfg.CheckpointsDir)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(reg)
		},
	}
}
