package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/devblac/signal-ingest/internal/config"
	"github.com/spf13/cobra"
)

var flagForce bool

func init() {
	initCmd.Flags().BoolVar(&flagForce, "force", false, "Overwrite existing files")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample config and .env",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		envPath := filepath.Join(filepath.Dir(cfgPath), ".env")

		for _, f := range []struct {
			path    string
			content string
			mode    os.FileMode
		}{
			{cfgPath, config.Sample, 0o644},
			{envPath, config.SampleEnv, 0o600},
		} {
			if err := writeScaffold(f.path, f.content, f.mode); err != nil {
				return err
			}
			fmt.Fprintf(out, "wrote %s\n", f.path)
		}
		fmt.Fprintln(out, "edit the signing secret and domain api settings, then run `signal-ingest validate`")
		return nil
	},
}

func writeScaffold(path, content string, mode os.FileMode) error {
	if !flagForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
