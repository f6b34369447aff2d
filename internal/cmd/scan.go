package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/card-scan/internal/capture"
	"github.com/tomasbasham/card-scan/internal/pipeline"
	"github.com/tomasbasham/card-scan/internal/session"
)

const (
	cmdTorch = ":torch"
	cmdDone  = ":done"
	cmdQuit  = ":quit"
)

type ScanOptions struct {
	root *RootOptions

	Batch bool

	iooption.IOStreams
}

var (
	scanLong = templates.LongDesc(`
		Start an interactive scan session.

		Press Enter to capture a frame from the configured source. Type a card
		name instead to look it up directly, or "set#number" (for example
		"m21#123") to look up one printing. ":torch" toggles the camera light,
		":done" ends the run (submitting the batch in batch mode) and ":quit"
		leaves without submitting. End of input behaves like ":done".`)

	scanExample = templates.Examples(`
		# Scan until one card resolves
		cardscan scan

		# Collect cards and submit them together
		cardscan scan --batch

		# Submit a list of card names
		cardscan scan --batch < names.txt`)
)

func NewScanOptions(root *RootOptions) *ScanOptions {
	return &ScanOptions{
		root:      root,
		IOStreams: root.IOStreams,
	}
}

func NewScanCommand(o *ScanOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "scan",
		DisableFlagsInUseLine: true,
		Short:                 "Scan cards interactively",
		Long:                  scanLong,
		Example:               scanExample,
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

	cmd.Flags().BoolVarP(&o.Batch, "batch", "b", false, "Collect resolved cards and submit them as one batch")

	return cmd
}

func (o *ScanOptions) Complete(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("scan takes no arguments")
	}
	return nil
}

func (o *ScanOptions) Validate() error {
	return nil
}

func (o *ScanOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStation(ctx, o.root)
	if err != nil {
		return err
	}
	defer st.Close()

	mode := pipeline.ModeSingle
	if o.Batch {
		mode = pipeline.ModeBatch
	}
	ctl, err := st.newController(ctx, mode)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	defer ctl.Close()

	fmt.Fprintf(o.Out, "Scanning in %s mode. Enter captures, a name looks a card up, %s, %s or %s.\n", mode, cmdTorch, cmdDone, cmdQuit)
	return newPrompt(ctl, o.In, o.Out).run(ctx)
}

// scanController is the part of pipeline.Controller the prompt drives.
type scanController interface {
	Capture(ctx context.Context, manualText string) (<-chan pipeline.Cycle, error)
	Finish(ctx context.Context) (*session.BatchResult, error)
	SetTorch(ctx context.Context, on bool) error
}

// prompt reads one command per line and reports each cycle as it completes.
type prompt struct {
	ctl   scanController
	in    io.Reader
	out   io.Writer
	torch bool
}

func newPrompt(ctl scanController, in io.Reader, out io.Writer) *prompt {
	return &prompt{ctl: ctl, in: in, out: out}
}

func (p *prompt) run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(p.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			done, err := p.handle(ctx, cmdDone)
			if err == nil && !done {
				err = errors.New("input ended before the batch was submitted")
			}
			return err
		}

		done, err := p.handle(ctx, strings.TrimSpace(line))
		if err != nil || done {
			return err
		}
	}
}

// handle executes one line and reports whether the run is over.
func (p *prompt) handle(ctx context.Context, line string) (bool, error) {
	switch line {
	case cmdQuit:
		return true, nil

	case cmdDone:
		res, err := p.ctl.Finish(ctx)
		if err != nil {
			if errors.Is(err, pipeline.ErrFinished) {
				return true, nil
			}
			fmt.Fprintf(p.out, "submit failed, the batch is kept: %v\n", err)
			return false, nil
		}
		if res != nil {
			printBatch(p.out, res)
		}
		return true, nil

	case cmdTorch:
		on := !p.torch
		if err := p.ctl.SetTorch(ctx, on); err != nil {
			if errors.Is(err, capture.ErrTorchUnsupported) {
				fmt.Fprintln(p.out, "this source has no torch")
				return false, nil
			}
			fmt.Fprintf(p.out, "torch: %v\n", err)
			return false, nil
		}
		p.torch = on
		fmt.Fprintf(p.out, "torch %s\n", onOff(on))
		return false, nil
	}

	ch, err := p.ctl.Capture(ctx, line)
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		fmt.Fprintln(p.out, "still working on the previous card")
		return false, nil
	case errors.Is(err, pipeline.ErrFinished), errors.Is(err, pipeline.ErrClosed):
		return true, nil
	case err != nil:
		return false, err
	}

	select {
	case cy := <-ch:
		printCycle(p.out, cy)
		return cy.State == pipeline.StateFinished, nil
	case <-ctx.Done():
		return true, nil
	}
}

func printCycle(w io.Writer, cy pipeline.Cycle) {
	switch cy.Status {
	case pipeline.StatusResolved:
		c := cy.Outcome.Card
		fmt.Fprintf(w, "#%d %s (%s %s)", cy.Seq, c.Name, strings.ToUpper(c.SetCode), c.CollectorNumber)
		if cy.SessionSize > 0 {
			fmt.Fprintf(w, ", %d in batch", cy.SessionSize)
		}
		fmt.Fprintln(w)
	case pipeline.StatusResolutionNotFound:
		fmt.Fprintf(w, "#%d no match for %s\n", cy.Seq, cy.Candidate)
	case pipeline.StatusCaptureUnavailable:
		fmt.Fprintf(w, "#%d no frame available: %s\n", cy.Seq, cy.Detail)
	case pipeline.StatusNothingDetected:
		fmt.Fprintf(w, "#%d nothing recognised, try again or type the name\n", cy.Seq)
	default:
		fmt.Fprintf(w, "#%d %s", cy.Seq, cy.Status)
		if cy.Detail != "" {
			fmt.Fprintf(w, ": %s", cy.Detail)
		}
		fmt.Fprintln(w)
	}
}

func printBatch(w io.Writer, res *session.BatchResult) {
	fmt.Fprintf(w, "batch %d: %d submitted, %d added, %d failed\n",
		res.SessionID, res.TotalSubmitted, res.Successful, res.Failed)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, o := range res.Results {
		if o.IsResolved() {
			fmt.Fprintf(tw, "  %d\t%s\t%s %s\n", i+1, o.Card.Name, strings.ToUpper(o.Card.SetCode), o.Card.CollectorNumber)
			continue
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\n", i+1, o.Reason, o.Detail)
	}
	tw.Flush()

	if res.ReceiptURL != "" {
		fmt.Fprintf(w, "receipt: %s\n", res.ReceiptURL)
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
