package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/clinicdesk/internal/config"
)

var configCmd = &cobra.Command{
	Use:         "config",
	Short:       "Inspect or create configuration",
	GroupID:     "system",
	Annotations: map[string]string{skipClient: ""},
}

var configForce bool

func init() {
	rootCmd.AddCommand(configCmd)

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write an example config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "clinicdesk.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !configForce {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			return report(config.SaveExample(path), map[string]interface{}{"path": path}, "Wrote %s", path)
		},
	}
	initCmd.Flags().BoolVarP(&configForce, "force", "f", false, "Overwrite an existing file")

	configCmd.AddCommand(initCmd, &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			shown := *cfg
			shown.Auth.Token = mask(shown.Auth.Token)
			shown.Completion.APIKey = mask(shown.Completion.APIKey)
			printJSON(shown)
			return nil
		},
	})
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****"
}
