package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/feishu-go/internal/runlog"
)

// shortIDLen is how much of an execution ID the table shows.
const shortIDLen = 8

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "Show recorded executions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			store := openHistory(cmd.Context(), cc.Resolved, cc.Logger)
			if store == nil {
				return errors.New("execution history is unavailable")
			}
			defer store.Close()

			if len(args) == 1 {
				return showExecution(cmd.Context(), cmd.OutOrStdout(), store, args[0], cc.Flags.JSON)
			}

			return listHistory(cmd.Context(), cmd.OutOrStdout(), store, limit, cc.Flags.JSON)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", defaultListLimit, "number of executions to show (0 for all)")

	return cmd
}

func listHistory(ctx context.Context, w io.Writer, store *runlog.Store, limit int, asJSON bool) error {
	list, err := store.List(ctx, limit)
	if err != nil {
		return err
	}

	if asJSON {
		if list == nil {
			list = []runlog.Execution{}
		}

		return printJSON(w, list)
	}

	if len(list) == 0 {
		fmt.Fprintln(w, "No executions recorded.")
		return nil
	}

	rows := make([][]string, len(list))
	for i := range list {
		e := &list[i]
		rows[i] = []string{
			shortID(e.ID),
			formatTime(e.StartedAt.Local()),
			e.Operation,
			e.Status,
			strconv.Itoa(e.Rows),
			strconv.Itoa(e.Failed),
			e.Duration.Round(time.Millisecond).String(),
		}
	}

	printTable(w, []string{"ID", "STARTED", "OPERATION", "STATUS", "ROWS", "FAILED", "DURATION"}, rows)

	return nil
}

func showExecution(ctx context.Context, w io.Writer, store *runlog.Store, id string, asJSON bool) error {
	e, err := store.Get(ctx, id)
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(w, e)
	}

	fmt.Fprintf(w, "ID:        %s\n", e.ID)
	fmt.Fprintf(w, "App:       %s\n", e.App)
	fmt.Fprintf(w, "Operation: %s\n", e.Operation)
	fmt.Fprintf(w, "Source:    %s\n", e.Source)
	fmt.Fprintf(w, "Started:   %s\n", e.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "Duration:  %s\n", e.Duration)
	fmt.Fprintf(w, "Status:    %s\n", e.Status)

	if e.Mode != "" {
		fmt.Fprintf(w, "Mode:      %s\n", e.Mode)
	}

	fmt.Fprintf(w, "Rows:      %d (%d failed)\n", e.Rows, e.Failed)

	if e.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", e.Error)
	}

	return nil
}

func shortID(id string) string {
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}

	return id
}
