package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/cryguy/wptworker/internal/store"
)

func newRunsCmd() *cobra.Command {
	var (
		dbPath string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded runs, or the files of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()
			if len(args) == 1 {
				return listFiles(cmd.OutOrStdout(), db, args[0])
			}
			return listRuns(cmd.OutOrStdout(), db, limit)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "wptworker.db", "SQLite database written by run --db")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs listed")
	return cmd
}

func listRuns(w io.Writer, db *store.Store, limit int) error {
	runs, err := db.Runs(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, gray.Render("no runs recorded"))
		return nil
	}
	for _, run := range runs {
		state := gray.Render("unfinished")
		if run.FinishedAt != nil {
			state = gray.Render(run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String())
		}
		fmt.Fprintf(w, "%s %s %s %s\n", cyan.Render(run.ID), run.StartedAt.Local().Format(time.DateTime), run.Engine, state)
	}
	return nil
}

func listFiles(w io.Writer, db *store.Store, runID string) error {
	run, err := db.GetRun(runID)
	if err != nil {
		return err
	}
	files, err := db.FileResults(runID)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %s %s\n", cyan.Render(run.ID), run.Engine, run.BaseURL)
	for _, f := range files {
		mark := green.Render("✓")
		if f.HarnessStatus != "OK" || f.Failed > 0 || f.ErrorMessage != "" || f.RunError != "" {
			mark = red.Render("✗")
		}
		fmt.Fprintf(w, "%s %s %s\n", mark, f.Path, gray.Render(fmt.Sprintf("(%d/%d)", f.Passed, f.Passed+f.Failed)))
	}
	return nil
}
