package main

import (
	"os"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !jsonOutput {
			printError("Error: %v", err)
		}
		os.Exit(1)
	}
}
