// Package main implements the gradsan CLI.
//
// gradsan runs one of its bundled demo targets under the gradient
// sanitizer. It works by:
//
//  1. Labeling one input byte at a time and running the target
//  2. Selecting bug targets (integer additions) from the observed labels
//  3. Mutating each target's source byte along the recorded gradient
//
// Usage:
//
//	gradsan --target int seed.bin          # full pipeline
//	gradsan --grad-only seed.bin           # print every gradient
//	LIBFUZZER_BYTE_IDX=3 gradsan seed.bin  # label byte 3, run once
//	gradsan targets                        # list bundled targets
//	gradsan config grsan.yaml              # write the effective configuration
//
// Programs of your own get the same command line from harness.Main.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kolkov/gradsan/harness"
	"github.com/kolkov/gradsan/internal/grad/config"
	"github.com/kolkov/gradsan/taint"
)

func main() {
	os.Exit(harness.Execute(newRootCmd()))
}

func newRootCmd() *cobra.Command {
	var targetName string
	root := harness.NewCommand(harness.CommandOptions{
		Use:   "gradsan",
		Short: "gradsan - gradient-guided taint tracking for Go",
		Resolve: func() (harness.Target, error) {
			return lookupTarget(targetName)
		},
	})
	root.Flags().StringVarP(&targetName, "target", "t", "int", "Bundled target to run (see 'gradsan targets')")
	root.AddCommand(newTargetsCmd(), newConfigCmd(), newVersionCmd())
	return root
}

func newTargetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List the bundled demo targets",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, t := range targets {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", t.name, t.desc)
			}
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config PATH",
		Short: "Write the effective configuration as YAML",
		Long: `Writes the configuration a run would use: the defaults, the file named
by GRSAN_CONFIG and the environment overrides (GRSAN_OPTIONS, ...).
The result can be edited and passed back with --config.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(os.Getenv("GRSAN_CONFIG"))
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := taint.GetInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "gradsan version %s (%s, %d labels)\n",
				info.Version, info.Derivatives, info.LabelCapacity)
		},
	}
}
