// Package cmd wires the CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tessera",
	Short: "Tessera - semantic retrieval for your knowledge base",
	Long: `Tessera indexes documents and code into a vector store, answers
questions grounded in the retrieved chunks, and discovers semantic
relationships across the whole corpus.

Run 'tessera serve' to start the HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
