package cmds

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pipewatch/pipewatch/pkg/bus"
	"github.com/pipewatch/pipewatch/pkg/client"
	"github.com/pipewatch/pipewatch/pkg/eventjs"
	"github.com/pipewatch/pipewatch/pkg/store"
	"github.com/pipewatch/pipewatch/pkg/tui"
)

func newRunCmd() *cobra.Command {
	var inputJSON string
	var inputFile string
	var scripts []string
	var useTUI bool
	var jsTimeout string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a generation run and stream its progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			clientOpts, cfg, err := clientOptionsFrom(opts)
			if err != nil {
				return err
			}
			request, err := loadRequestInput(inputJSON, inputFile)
			if err != nil {
				return err
			}

			st := store.New()
			cl := client.New(st, clientOpts)

			b, err := bus.NewInMemoryBus()
			if err != nil {
				return err
			}
			stopForward := bus.ForwardStore(b, st, func(err error) bool {
				return stderrors.Is(err, client.ErrRunCancelled)
			})
			defer stopForward()

			scriptPaths := append(append([]string{}, cfg.Scripts...), scripts...)
			var chain *eventjs.Chain
			if len(scriptPaths) > 0 {
				chain, err = eventjs.LoadChainFromFiles(cmd.Context(), scriptPaths, eventjs.Options{HookTimeout: jsTimeout})
				if err != nil {
					return err
				}
				defer func() { _ = chain.Close(context.Background()) }()
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stopSignals()
			go func() {
				select {
				case <-sigCtx.Done():
					cl.Cancel()
				case <-ctx.Done():
				}
			}()

			// Handlers must be in place before the router starts.
			var program *tea.Program
			if useTUI {
				program = tea.NewProgram(
					tui.NewRunModel(cl.Cancel),
					tea.WithInput(cmd.InOrStdin()),
					tea.WithOutput(cmd.OutOrStdout()),
					tea.WithAltScreen(),
				)
				tui.RegisterForwarder(b, program)
			} else {
				registerEventPrinter(cmd, b, chain)
			}

			eg, egCtx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				err := b.Run(egCtx)
				if stderrors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})

			if useTUI {
				eg.Go(func() error {
					_, err := program.Run()
					cancel()
					return err
				})
				eg.Go(func() error {
					defer program.Send(tea.Quit())
					return cl.StartGeneration(egCtx, request)
				})
			} else {
				eg.Go(func() error {
					defer cancel()
					return cl.StartGeneration(egCtx, request)
				})
			}
			if err := eg.Wait(); err != nil {
				return errors.Wrap(err, "run")
			}

			return printRunSummary(cmd, st.Snapshot())
		},
	}

	cmd.Flags().StringVar(&inputJSON, "input-json", "", "JSON object to send as the generation request")
	cmd.Flags().StringVar(&inputFile, "input-file", "", "Path to a JSON file with the generation request")
	cmd.Flags().StringSliceVar(&scripts, "script", nil, "JS event module(s), applied in order before printing")
	cmd.Flags().StringVar(&jsTimeout, "js-timeout", "0", "Per-hook JS timeout (e.g. 50ms)")
	cmd.Flags().BoolVar(&useTUI, "tui", false, "Render the run in an interactive terminal UI")
	return cmd
}

// registerEventPrinter turns bus event envelopes into stdout lines, running
// them through the JS chain first when one is configured.
func registerEventPrinter(cmd *cobra.Command, b *bus.Bus, chain *eventjs.Chain) {
	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)

	b.AddHandler("pipewatch-run-printer", bus.TopicRunEvents, func(msg *message.Message) error {
		defer msg.Ack()

		env, err := bus.DecodeEnvelope(msg)
		if err != nil {
			return nil
		}
		if env.Type != bus.TypeRunEvent {
			return nil
		}
		var ev bus.RunEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil
		}

		if chain == nil {
			stage := ""
			if ev.Event.Stage != "" {
				stage = " stage=" + string(ev.Event.Stage)
			}
			_, _ = fmt.Fprintf(out, "%s seq=%d%s\n", ev.Event.Type, ev.Event.Seq, stage)
			return nil
		}

		annotated, errRecords, err := chain.ProcessEvent(cmd.Context(), ev.Event)
		if err != nil {
			return nil
		}
		for _, rec := range errRecords {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "script %s: %s hook: %s\n", rec.Module, rec.Hook, rec.Message)
		}
		if annotated != nil {
			_ = enc.Encode(annotated)
		}
		return nil
	})
}

func printRunSummary(cmd *cobra.Command, snap store.Snapshot) error {
	out := cmd.OutOrStdout()

	_, _ = fmt.Fprintln(out)
	for _, st := range snap.Stages {
		_, _ = fmt.Fprintf(out, "%-12s %s\n", st.Name, st.Status)
	}
	if snap.Score > 0 {
		_, _ = fmt.Fprintf(out, "score: %.0f\n", snap.Score)
	}
	if snap.RefinementIterations > 0 {
		_, _ = fmt.Fprintf(out, "refinement iterations: %d\n", snap.RefinementIterations)
	}
	if snap.Plan != nil {
		_, _ = fmt.Fprintf(out, "plan: %s\n", snap.Plan.ID)
	}

	switch {
	case stderrors.Is(snap.Err, client.ErrRunCancelled):
		_, _ = fmt.Fprintln(out, "run cancelled")
		return nil
	case snap.Err != nil:
		return errors.Errorf("run failed: %s", snap.Err)
	default:
		_, _ = fmt.Fprintf(out, "run %s completed in %s\n", snap.RunID, snap.Elapsed)
		return nil
	}
}

func loadRequestInput(inputJSON, inputFile string) (map[string]any, error) {
	if inputJSON != "" && inputFile != "" {
		return nil, errors.New("use either --input-json or --input-file, not both")
	}
	raw := []byte(inputJSON)
	if inputFile != "" {
		b, err := os.ReadFile(inputFile)
		if err != nil {
			return nil, errors.Wrap(err, "read input file")
		}
		raw = b
	}
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "parse request JSON")
	}
	return out, nil
}
