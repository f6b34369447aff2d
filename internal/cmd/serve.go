package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/card-scan/internal/operation"
	"github.com/tomasbasham/card-scan/internal/pipeline"
	"github.com/tomasbasham/card-scan/internal/server"
)

type ServeOptions struct {
	root *RootOptions

	Addr string
}

var (
	serveLong = templates.LongDesc(`
		Start the scan station HTTP server.

		One run is active at a time. Each run binds the configured capture
		source when it starts and releases it when it is deleted or replaced.`)

	serveExample = templates.Examples(`
		# Start on the configured address
		cardscan serve

		# Start on a custom address
		cardscan serve --addr :9090`)
)

func NewServeOptions(root *RootOptions) *ServeOptions {
	return &ServeOptions{root: root}
}

func NewServeCommand(o *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the scan station HTTP server",
		Long:    serveLong,
		Example: serveExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(); err != nil {
				return err
			}
			if err := o.Run(); err != nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&o.Addr, "addr", "a", "", "Address to listen on (default: server.addr from the config)")

	return cmd
}

func (o *ServeOptions) Complete(cmd *cobra.Command, args []string) error {
	return nil
}

func (o *ServeOptions) Validate() error {
	return nil
}

func (o *ServeOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStation(ctx, o.root)
	if err != nil {
		return err
	}
	defer st.Close()

	addr := o.Addr
	if addr == "" {
		addr = st.cfg.Server.Addr
	}

	newRun := func(mode pipeline.Mode, observer pipeline.Observer) (server.Controller, error) {
		ctl, err := st.newController(ctx, mode, observer)
		if err != nil {
			return nil, err
		}
		return ctl, nil
	}

	srv := server.New(operation.NewMemoryStore(), newRun, st.inventory, logrus.NewEntry(st.log))

	st.log.WithFields(logrus.Fields{
		"addr":   addr,
		"source": st.cfg.Capture.Source,
	}).Info("starting scan station")
	fmt.Fprintf(o.root.Out, "Listening on %s\n", addr)

	return srv.ListenAndServe(ctx, addr)
}
