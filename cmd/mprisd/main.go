// Package main is the entry point for the mprisd daemon.
// mprisd exposes a playback core on the D-Bus session bus as an MPRIS media
// player and announces itself to the desktop's sound menu at startup.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

type flags struct {
	configDir string
	autoplay  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

// reportError prints err unless it was already logged.
func reportError(w io.Writer, err error) {
	if errors.Is(err, errBridgeNotStarted) {
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:   "mprisd",
		Short: "MPRIS bridge for a local playback core",
		Long: `mprisd publishes a playback core on the session bus as an MPRIS
media player so desktop shells, media keys and playerctl can see and
control it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	run := &cobra.Command{
		Use:   "run [tracks...]",
		Short: "Run the daemon with the given tracks loaded",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, cmd, f, args)
		},
	}
	run.Flags().StringVarP(&f.configDir, "config", "c", defaultConfigDir(), "configuration directory")
	run.Flags().BoolVar(&f.autoplay, "autoplay", false, "start playing the first track")
	run.Flags().String("desktop-file", "", "path of the application's .desktop file")
	run.Flags().String("name", "", "MPRIS bus name suffix")
	run.Flags().String("log-level", "", "log level (debug, info, warn, error)")
	run.Flags().String("log-format", "", "log format (logfmt, json, text)")
	run.Flags().String("metrics-listen", "", "address for the /metrics endpoint")
	run.Flags().Bool("announce", true, "announce the player to the desktop sound menu")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mprisd %s\n", Version)
		},
	}

	root.AddCommand(run, version)
	root.SetContext(context.Background())
	return root
}

func defaultConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "mprisd")
	}
	return ".mprisd"
}
