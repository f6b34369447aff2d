package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"
)

type WhoamiOptions struct {
	root *RootOptions

	iooption.IOStreams
}

var whoamiLong = templates.LongDesc(`
	Print this device's identifier and the user it is registered as,
	registering it first if needed.`)

func NewWhoamiOptions(root *RootOptions) *WhoamiOptions {
	return &WhoamiOptions{
		root:      root,
		IOStreams: root.IOStreams,
	}
}

func NewWhoamiCommand(o *WhoamiOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the device identity",
		Long:  whoamiLong,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.Run(cmd.Context())
		},
	}
}

func (o *WhoamiOptions) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openStation(ctx, o.root)
	if err != nil {
		return err
	}
	defer st.Close()

	if _, err := st.auth.Token(ctx); err != nil {
		return err
	}
	id, err := st.auth.Identity()
	if err != nil {
		return err
	}

	fmt.Fprintf(o.Out, "device: %s\n", id.DeviceID)
	fmt.Fprintf(o.Out, "user:   %s\n", id.UserID)
	return nil
}
