package main

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = ""
	date    = ""
)

var flagVersionJSON bool

type buildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Date      string `json:"date,omitempty"`
	GoVersion string `json:"go_version"`
}

func currentBuild() buildInfo {
	b := buildInfo{Version: version, Commit: commit, Date: date, GoVersion: runtime.Version()}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	if b.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch {
		case s.Key == "vcs.revision" && b.Commit == "":
			b.Commit = s.Value
		case s.Key == "vcs.time" && b.Date == "":
			b.Date = s.Value
		}
	}
	return b
}

func init() {
	versionCmd.Flags().BoolVar(&flagVersionJSON, "json", false, "Print build info as JSON")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b := currentBuild()
		out := cmd.OutOrStdout()
		if flagVersionJSON {
			return json.NewEncoder(out).Encode(b)
		}
		line := "signal-ingest " + b.Version
		if b.Commit != "" {
			line += " (" + b.Commit + ")"
		}
		if b.Date != "" {
			line += " built " + b.Date
		}
		_, err := fmt.Fprintf(out, "%s %s\n", line, b.GoVersion)
		return err
	},
}
