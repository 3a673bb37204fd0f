package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	Short:   "Sign in as a dentist",
	GroupID: "session",
	Long: `Login stores the identity issued by the clinic's sign-in provider for
later commands. Missing values are taken from the credentials file.`,
	Example: `  clinicdesk login --uid 8fJk2 --email dr@clinic.com
  clinicdesk login --uid 8fJk2 --email dr@clinic.com --token eyJhbGciOi...`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	Short:   "Forget the signed-in identity",
	GroupID: "session",
	RunE: func(cmd *cobra.Command, args []string) error {
		err := apiClient.Auth.SignOut()
		return report(err, nil, "Signed out")
	},
}

var (
	loginUID   string
	loginEmail string
	loginToken string
)

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd)

	loginCmd.Flags().StringVarP(&loginUID, "uid", "u", "",
		"User id in the store")
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "",
		"Email address")
	loginCmd.Flags().StringVarP(&loginToken, "token", "t", "",
		"Store access token (will prompt if not provided)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	if loginToken == "" && cfg.Auth.Token == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		var err error
		loginToken, err = promptSecret("Token (empty for none): ")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
	}
	if loginToken == "" {
		loginToken = cfg.Auth.Token
	}

	token, err := apiClient.Auth.SignIn(loginUID, loginEmail, loginToken)
	if err != nil {
		return report(err, nil, "")
	}

	// Verify the profile now rather than on the next command.
	s, err := apiClient.OpenSession(cmd.Context(), nil)
	if err != nil {
		return report(fmt.Errorf("login rejected: %w", err), nil, "")
	}
	s.Close()

	return report(nil, map[string]interface{}{
		"uid":   token.UID,
		"email": token.Email,
	}, "Signed in as %s", token.Email)
}

func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	// Read without echo
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr) // New line after input

	if err != nil {
		return "", err
	}

	return string(secret), nil
}
