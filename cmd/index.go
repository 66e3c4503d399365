package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var indexForce bool

var indexCmd = &cobra.Command{
	Use:   "index [url]",
	Short: "Index documents into the vector store",
	Long: `Index chunks and embeds stored documents. With a URL argument the
page is fetched, saved and indexed; without arguments every stored document
is indexed. Documents whose embeddings are already current are skipped
unless --force is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return runIndexURL(cmd, args[0])
		}
		return runIndexAll(cmd)
	},
}

func init() {
	indexCmd.Flags().BoolVar(&indexForce, "force", false, "re-embed documents even if already indexed")
	rootCmd.AddCommand(indexCmd)
}

func runIndexURL(cmd *cobra.Command, rawURL string) error {
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

	doc, err := a.Fetcher.FetchURL(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	if err := a.Store.SaveDocument(ctx, doc); err != nil {
		return fmt.Errorf("saving document: %w", err)
	}

	chunks, err := a.Indexer.IndexDocument(ctx, doc, indexForce)
	if err != nil {
		return fmt.Errorf("indexing document %s: %w", doc.ID, err)
	}

	fmt.Printf("Indexed %q (%d chunks)\n", doc.Title, chunks)
	return nil
}

func runIndexAll(cmd *cobra.Command) error {
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

	docs, err := a.Store.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("listing documents: %w", err)
	}
	if len(docs) == 0 {
		fmt.Println("No documents to index.")
		return nil
	}

	stats, err := a.Indexer.IndexAllDocuments(ctx, docs, indexForce)
	if err != nil {
		return fmt.Errorf("indexing documents: %w", err)
	}

	fmt.Printf("Indexed %d of %d documents (%d chunks, %d failed)\n",
		stats.Indexed, len(docs), stats.Chunks, stats.Failed)
	if stats.Failed > 0 {
		return fmt.Errorf("%d documents failed to index", stats.Failed)
	}
	return nil
}
