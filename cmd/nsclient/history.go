// SPDX-FileCopyrightText: Copyright (C) 2026  The nsclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/spf13/cobra"

	"github.com/katzenpost/nsclient/core/utils"
	"github.com/katzenpost/nsclient/history"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func newHistoryCommand(root *rootFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded protocol runs",
		Long: `history lists the runs recorded in the journal named by History.Path,
newest first.  The journal holds outcomes and byte counts, never keys.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cfg.History.Path == "" {
				return errors.New("config file must be specified with a History.Path")
			}
			if !utils.Exists(cfg.History.Path) {
				printHistory(cmd.OutOrStdout(), nil)
				return nil
			}
			j, err := history.Open(cfg.History.Path)
			if err != nil {
				return err
			}
			defer j.Close()
			records, err := j.List(limit)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), records)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list, 0 for all")
	return cmd
}

func printHistory(w io.Writer, records []*history.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-5s %-20s %-10s %-8s %-28s %s",
		"ID", "START", "DURATION", "OUTCOME", "SERVER", "DETAIL")))
	for _, r := range records {
		outcome := r.Outcome
		detail := fmt.Sprintf("%d/%d bytes", r.BytesSent, r.BytesReceived)
		if r.Outcome == history.OutcomeFailure {
			outcome = failureStyle.Render(fmt.Sprintf("%-8s", r.Outcome))
			detail = fmt.Sprintf("at %s: %s", r.FailedState, r.Error)
		} else {
			outcome = fmt.Sprintf("%-8s", outcome)
		}
		fmt.Fprintf(w, "%-5d %-20s %-10s %s %-28s %s\n",
			r.ID,
			r.Start.Local().Format(time.DateTime),
			r.Duration.Round(time.Millisecond),
			outcome,
			r.Server,
			detail,
		)
	}
}
