package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	dopamlog "github.com/dopamine-pm/dopamine/internal/log"
)

var (
	quietFlag   bool
	verboseFlag bool
	debugFlag   bool
)

var logger dopamlog.Logger

var globalCtx context.Context
var globalCancel context.CancelFunc

var rootCmd = &cobra.Command{
	Use:   "dop",
	Short: "Build and resolve dopamine recipes",
	Long: `dop evaluates dopamine recipes against a dependency graph and a
build profile, and drives a recipe through source, build, install, and
archive stages with content-addressed, resumable caching.`,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "errors only")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "info-level output")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "debug-level output with source locations")
	rootCmd.PersistentPreRun = initLogger

	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(publishCmd)
}

func initLogger(cmd *cobra.Command, args []string) {
	level := slog.LevelWarn
	switch {
	case quietFlag:
		level = slog.LevelError
	case debugFlag:
		level = slog.LevelDebug
	case verboseFlag:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: debugFlag}
	logger = dopamlog.New(slog.NewTextHandler(os.Stderr, opts))
}

func main() {
	globalCtx, globalCancel = context.WithCancel(context.Background())
	defer globalCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		fmt.Fprintf(os.Stderr, "\nreceived %s, canceling...\n", sig)
		globalCancel()
		<-sigChan
		fmt.Fprintln(os.Stderr, "forced exit")
		exitWithCode(ExitCancelled)
	}()

	rootCmd.SetContext(globalCtx)
	if err := rootCmd.Execute(); err != nil {
		if globalCtx.Err() == context.Canceled {
			exitWithCode(ExitCancelled)
		}
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}
}
