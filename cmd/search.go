package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tessera-kb/tessera/internal/index"
)

var (
	searchLimit  int
	searchAnswer bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSearch(cmd, strings.Join(args, " "))
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum number of results")
	searchCmd.Flags().BoolVar(&searchAnswer, "answer", true, "generate an AI answer from the results")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, query string) error {
	ctx := cmd.Context()
	a, logger, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	matches, err := a.Retrieval.Search(ctx, query, searchLimit, nil)
	if err != nil {
		return fmt.Errorf("searching: %w", err)
	}
	if len(matches) == 0 {
		fmt.Println("No results.")
		return nil
	}

	for i, m := range matches {
		title := index.MetaString(m.Metadata, "document_title")
		if title == "" {
			title = index.MetaString(m.Metadata, "chunk_name")
		}
		if title == "" {
			title = m.ID
		}
		fmt.Printf("%2d. %s (%.0f%%)\n", i+1, title, m.Similarity*100)

		text := strings.TrimSpace(m.Text)
		if runes := []rune(text); len(runes) > 200 {
			text = string(runes[:200]) + "…"
		}
		fmt.Printf("    %s\n\n", strings.ReplaceAll(text, "\n", " "))
	}

	if searchAnswer {
		if answer := a.Composer.Compose(ctx, query, matches); answer != nil {
			fmt.Println("Answer:")
			fmt.Println(*answer)
		}
	}
	return nil
}
