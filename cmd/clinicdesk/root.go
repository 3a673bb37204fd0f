package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/clinicdesk/internal/client"
	"github.com/TheMichaelB/clinicdesk/internal/config"
	"github.com/TheMichaelB/clinicdesk/internal/events"
	"github.com/TheMichaelB/clinicdesk/internal/models"
)

// Commands that run without a client.
const skipClient = "skip-client"

var (
	cfgFile    string
	jsonOutput bool
	verbose    bool
	noColor    bool

	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "clinicdesk",
	Short: "Dental clinic console with live data and an AI assistant",
	Long: `clinicdesk keeps a dentist's patients, stock and finances in step with
the clinic's realtime store, and answers patients with an AI assistant
that falls back across several models.`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if apiClient != nil {
			return apiClient.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"Config file (default ./clinicdesk.yaml or ~/.config/clinicdesk/clinicdesk.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Print results as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"Disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "session", Title: "Session Commands:"},
		&cobra.Group{ID: "records", Title: "Record Commands:"},
		&cobra.Group{ID: "assistant", Title: "Assistant Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)
	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")
}

func setup(cmd *cobra.Command, args []string) error {
	if noColor {
		color.NoColor = true
	}

	var err error
	cfg, err = config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if noColor {
		cfg.Log.Color = false
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	events.SetDefault(logger)

	if skip(cmd) {
		return nil
	}

	apiClient, err = client.New(context.Background(), cfg, client.Options{}, logger)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	return nil
}

func skip(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if _, ok := c.Annotations[skipClient]; ok {
			return true
		}
	}
	return false
}

// Output helpers

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		printError("Encode output: %v", err)
	}
}

func printSuccess(format string, args ...interface{}) {
	color.New(color.FgGreen).Fprintf(os.Stdout, format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	color.New(color.FgCyan).Fprintf(os.Stdout, format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(os.Stderr, format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, format+"\n", args...)
}

// report prints a command result. Errors are printed by main, or with
// their code in JSON mode.
func report(err error, result map[string]interface{}, format string, args ...interface{}) error {
	if jsonOutput {
		if result == nil {
			result = map[string]interface{}{}
		}
		result["success"] = err == nil
		if err != nil {
			result["error"] = err.Error()
			result["code"] = models.ErrorCode(err)
		}
		printJSON(result)
		return err
	}
	if err != nil {
		return err
	}
	printSuccess(format, args...)
	return nil
}
