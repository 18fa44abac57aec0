package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ecociel/mcp-app-go/widget"
)

func newResolveCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <name|uri>",
		Short: "Print the resolved document of a widget",
		Long: `Resolve a widget exactly as resources/read would and print the
document to stdout. The argument is a widget name from the manifest or any
identifier the server serves, including derived asset identifiers.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := st.build(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			uri := args[0]
			if !strings.HasPrefix(uri, widget.Scheme+"://") {
				w, ok := a.Registry.Widget(uri)
				if !ok {
					return fmt.Errorf("unknown widget %q", uri)
				}
				uri = w.CanonicalURI()
			}
			c, err := a.Registry.Lookup(ctx, uri)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(c.Data)
			return err
		},
	}
}

func newListCmd(st *state) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the resources the server exposes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := st.build(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.Registry.List(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(items)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "URI\tMIME TYPE\tNAME")
			for _, it := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", it.URI, it.MIMEType, it.Name)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}
