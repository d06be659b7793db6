package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/replaykit/stitch/pkg/config"
	"github.com/replaykit/stitch/pkg/controller"
	"github.com/replaykit/stitch/pkg/fleet"
	"github.com/replaykit/stitch/pkg/logger"
	"github.com/replaykit/stitch/pkg/progress"
)

var (
	configPath string
	noProgress bool
)

func main() {
	logger.Init()

	rootCmd := &cobra.Command{
		Use:   "stitch",
		Short: "stitch - replay compilation manager",
		Long: `stitch manages named replay compilations: folders that accumulate short
video clips and can be stitched on demand, via ffmpeg, into one playable file.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "stitch.toml", "Path to the TOML configuration file")
	rootCmd.PersistentFlags().BoolVar(&noProgress, "no-progress", false, "Disable the console progress bar")

	rootCmd.AddCommand(
		saveCmd(),
		buildCmd(),
		clearCmd(),
		buildAllCmd(),
		clearAllCmd(),
		statusCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and wires the coordinator.
func setup() (*fleet.Coordinator, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "main", map[string]interface{}{
			"config": configPath,
			"error":  err.Error(),
		})
		return nil, nil, err
	}

	var reporter progress.Reporter
	if !noProgress {
		reporter = progress.NewReporter(progress.WithDescription("Stitching..."))
	}

	coord := fleet.New(cfg, newNotifier(cfg), reporter, logger.NewLogger())
	return coord, cfg, nil
}

// newNotifier builds the playback-surface callback: it logs every finished
// compilation and, when a now-playing directory is configured, drops the
// output path into "<sink>.txt" for the playback host to pick up.
func newNotifier(cfg *config.Config) controller.Notifier {
	sinks := make(map[string]string, len(cfg.Compilations))
	for _, comp := range cfg.Compilations {
		sinks[comp.Name] = comp.Sink
	}
	dir := cfg.Playback.NowPlayingDir

	return controller.NotifierFunc(func(name, outputPath string) {
		logger.Info("Compilation ready", "playback", map[string]interface{}{
			"compilation": name,
			"output":      outputPath,
			"sink":        sinks[name],
		})
		if dir == "" {
			return
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("Failed to create now-playing directory", "playback", map[string]interface{}{
				"dir":   dir,
				"error": err.Error(),
			})
			return
		}
		sinkFile := filepath.Join(dir, sinks[name]+".txt")
		if err := os.WriteFile(sinkFile, []byte(outputPath+"\n"), 0o644); err != nil {
			logger.Error("Failed to write now-playing file", "playback", map[string]interface{}{
				"file":  sinkFile,
				"error": err.Error(),
			})
		}
	})
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Info("Received signal, shutting down", "main", map[string]interface{}{
			"signal": sig.String(),
		})
		cancel()
	}()
	return ctx, cancel
}

func saveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save <compilation> <clip-path>",
		Short: "Ingest a captured clip into a compilation's folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, _, err := setup()
			if err != nil {
				return err
			}
			clip, err := coord.OnSaveReplay(args[0], args[1])
			if err != nil {
				logger.Error("Save failed", "main", map[string]interface{}{
					"compilation": args[0],
					"error":       err.Error(),
				})
				return err
			}
			fmt.Printf("saved %s as clip #%d\n", args[1], clip.Index)
			return nil
		},
	}
}

func buildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build <compilation>",
		Short: "Stitch a compilation's clips into its output file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, _, err := setup()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			res := <-coord.OnBuildCompilation(ctx, args[0])
			return printResults(res)
		},
	}
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <compilation>",
		Short: "Delete every clip in a compilation's folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, _, err := setup()
			if err != nil {
				return err
			}
			return printResults(coord.OnClearReplays(args[0]))
		},
	}
}

func buildAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build-all",
		Short: "Stitch every configured compilation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, _, err := setup()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			results := coord.OnBuildAll(ctx)
			return printResults(orderedResults(coord, results)...)
		},
	}
}

func clearAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-all",
		Short: "Clear every configured compilation's folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, _, err := setup()
			if err != nil {
				return err
			}
			results := coord.OnClearAll()
			return printResults(orderedResults(coord, results)...)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show every compilation's folder, clip count and state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, cfg, err := setup()
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Compilation", "Folder", "Clips", "State", "Sink"})

			for i, name := range coord.Names() {
				ctrl := coord.Controller(name)
				count, countErr := ctrl.ClipCount()
				clips := fmt.Sprintf("%d", count)
				if countErr != nil {
					clips = "?"
				}
				t.AppendRow(table.Row{name, ctrl.Folder(), clips, ctrl.State(), cfg.Compilations[i].Sink})
			}
			t.Render()
			return nil
		},
	}
}

// orderedResults re-orders a fan-out result map into configuration order.
func orderedResults(coord *fleet.Coordinator, results map[string]controller.BuildResult) []controller.BuildResult {
	out := make([]controller.BuildResult, 0, len(results))
	for _, name := range coord.Names() {
		if res, ok := results[name]; ok {
			out = append(out, res)
		}
	}
	return out
}

// printResults reports each result on stdout and returns an error when any
// operation failed, so the process exit code reflects the outcome.
func printResults(results ...controller.BuildResult) error {
	failed := 0
	for _, res := range results {
		switch res.Status {
		case controller.StatusSucceeded:
			if res.OutputPath != "" {
				fmt.Printf("%s: %s (%s)\n", res.Compilation, res.Status, res.OutputPath)
			} else {
				fmt.Printf("%s: %s\n", res.Compilation, res.Status)
			}
		case controller.StatusSkipped:
			fmt.Printf("%s: %s (%s)\n", res.Compilation, res.Status, res.Reason.Message)
		case controller.StatusFailed:
			failed++
			fmt.Printf("%s: %s (%s)\n", res.Compilation, res.Status, res.Reason.Error())
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d operation(s) failed", failed)
	}
	return nil
}
