package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/card-scan/internal/api"
)

type InventoryOptions struct {
	root *RootOptions

	Refresh bool
	Output  string

	iooption.IOStreams
}

var (
	inventoryLong = templates.LongDesc(`
		List the cards in your inventory.`)

	inventoryExample = templates.Examples(`
		# Show the inventory as a table
		cardscan inventory

		# Print the raw listing as JSON
		cardscan inventory -o json`)
)

func NewInventoryOptions(root *RootOptions) *InventoryOptions {
	return &InventoryOptions{
		root:      root,
		IOStreams: root.IOStreams,
	}
}

func NewInventoryCommand(o *InventoryOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "inventory",
		DisableFlagsInUseLine: true,
		Short:                 "List the cards in your inventory",
		Long:                  inventoryLong,
		Example:               inventoryExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(); err != nil {
				return err
			}
			if err := o.Run(cmd.Context()); err != nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&o.Refresh, "refresh", false, "Bypass the inventory cache")
	cmd.Flags().StringVarP(&o.Output, "output", "o", "table", "Output format: table or json")

	return cmd
}

func (o *InventoryOptions) Complete(cmd *cobra.Command, args []string) error {
	o.Output = strings.ToLower(o.Output)
	return nil
}

func (o *InventoryOptions) Validate() error {
	switch o.Output {
	case "table", "json":
		return nil
	}
	return fmt.Errorf("unknown output format %q", o.Output)
}

func (o *InventoryOptions) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openStation(ctx, o.root)
	if err != nil {
		return err
	}
	defer st.Close()

	if o.Refresh {
		st.inventory.Invalidate()
	}
	inv, err := st.inventory.List(ctx)
	if err != nil {
		return err
	}

	if o.Output == "json" {
		enc := json.NewEncoder(o.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(inv)
	}
	return printInventory(o.Out, inv)
}

func printInventory(w io.Writer, inv *api.InventoryResponse) error {
	if len(inv.Inventory) == 0 {
		_, err := fmt.Fprintln(w, "Your inventory is empty.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "QTY\tNAME\tSET\tNUMBER\tADDED")
	for _, item := range inv.Inventory {
		name, set, number := item.CardID, "", ""
		if c := item.Card; c != nil {
			name, set, number = c.Name, strings.ToUpper(c.SetCode), c.CollectorNumber
		}
		added := ""
		if !item.AddedAt.IsZero() {
			added = item.AddedAt.Local().Format("2006-01-02")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", item.Quantity, name, set, number, added)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d cards\n", inv.Count)
	return err
}
