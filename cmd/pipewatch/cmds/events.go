package cmds

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

func newEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Print the known event types and pipeline stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			_, _ = fmt.Fprintln(out, "event types:")
			for _, t := range pipeline.KnownEventTypes {
				terminal := ""
				if t.Terminal() {
					terminal = " (terminal)"
				}
				_, _ = fmt.Fprintf(out, "  %s%s\n", t, terminal)
			}

			_, _ = fmt.Fprintln(out, "stages:")
			for _, s := range pipeline.StageOrder {
				_, _ = fmt.Fprintf(out, "  %s\n", s)
			}
			return nil
		},
	}
}
