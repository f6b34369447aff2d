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

	"github.com/tomasbasham/card-scan/internal/card"
)

type CardOptions struct {
	root *RootOptions

	ID     string
	Output string

	iooption.IOStreams
}

var (
	cardLong = templates.LongDesc(`
		Show one catalog entry by its id, as listed by "cardscan inventory".`)

	cardExample = templates.Examples(`
		# Show a card
		cardscan card 3f1c6a52

		# Print the raw entry as JSON
		cardscan card 3f1c6a52 -o json`)
)

func NewCardOptions(root *RootOptions) *CardOptions {
	return &CardOptions{
		root:      root,
		IOStreams: root.IOStreams,
	}
}

func NewCardCommand(o *CardOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "card ID",
		DisableFlagsInUseLine: true,
		Short:                 "Show a catalog entry",
		Long:                  cardLong,
		Example:               cardExample,
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

	cmd.Flags().StringVarP(&o.Output, "output", "o", "table", "Output format: table or json")

	return cmd
}

func (o *CardOptions) Complete(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("card takes exactly one id")
	}
	o.ID = strings.TrimSpace(args[0])
	o.Output = strings.ToLower(o.Output)
	return nil
}

func (o *CardOptions) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("card id must not be empty")
	}
	switch o.Output {
	case "table", "json":
		return nil
	}
	return fmt.Errorf("unknown output format %q", o.Output)
}

func (o *CardOptions) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openStation(ctx, o.root)
	if err != nil {
		return err
	}
	defer st.Close()

	c, err := st.api.Card(ctx, o.ID)
	if err != nil {
		return err
	}

	if o.Output == "json" {
		enc := json.NewEncoder(o.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	}
	return printCard(o.Out, c)
}

func printCard(w io.Writer, c *card.Card) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	row := func(label, value string) {
		if value != "" {
			fmt.Fprintf(tw, "%s:\t%s\n", label, value)
		}
	}
	row("Name", c.Name)
	row("Set", strings.ToUpper(c.SetCode))
	row("Number", c.CollectorNumber)
	row("Cost", c.ManaCost)
	row("Type", c.TypeLine)
	row("Rarity", c.Rarity)
	row("Text", c.OracleText)
	row("ID", c.ID)
	return tw.Flush()
}
