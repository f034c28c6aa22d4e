package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tablebrowser/internal/schema"
)

func newTablesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "List the tables of the active connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, _, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			refs, err := a.service.ListTables(cmd.Context())
			if err != nil {
				return err
			}
			for _, ref := range refs {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), ref.FullName())
			}
			return nil
		},
	}
	cmd.AddCommand(newTablesShowCmd())
	cmd.AddCommand(newTablesRowsCmd())
	return cmd
}

func newTablesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [SCHEMA.]TABLE",
		Short: "Print the columns and keys of a table as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := schema.ParseRef(args[0])
			if err != nil {
				return err
			}
			a, _, _, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			meta, err := a.service.TableMeta(cmd.Context(), ref)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), meta)
		},
	}
}

func newTablesRowsCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "rows [SCHEMA.]TABLE",
		Short: "Print one page of rows as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := schema.ParseRef(args[0])
			if err != nil {
				return err
			}
			a, _, _, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			page, err := a.service.ListRows(cmd.Context(), ref, limit, offset)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), page)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "rows per page (default: default_page_size)")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
