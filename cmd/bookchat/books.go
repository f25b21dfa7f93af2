package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/book-chat/internal/books"
	"github.com/suPer8Hu/book-chat/internal/config"
)

func newBooksCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "books",
		Short: "List the book catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Load().BooksFile
			}
			catalog, err := loadCatalog(file)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tAUTHOR\tCHAPTERS")
			for _, b := range catalog.All() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", b.ID, b.Title, b.Author, len(b.Chapters))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML catalog to read instead of the built-in one")
	return cmd
}

func loadCatalog(path string) (*books.Catalog, error) {
	if path == "" {
		return books.Default()
	}
	c, err := books.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load books %s: %w", path, err)
	}
	return c, nil
}
