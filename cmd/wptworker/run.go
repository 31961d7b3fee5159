package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cryguy/wptworker"
	"github.com/cryguy/wptworker/internal/store"
	"github.com/cryguy/wptworker/internal/wptfile"
)

// errTestsFailed makes the process exit non-zero once the report has
// been printed.
var errTestsFailed = errors.New("tests failed")

func newRunCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "run <file or directory>...",
		Short: "Run test files and print their results",
		Long: `Run test files, one isolated environment per file.

Arguments are files or directories, absolute or relative to the working
directory or to --root. Directories are searched for .any.js, .window.js,
.worker.js and .html tests.

Every flag can also be set as WPTWORKER_<FLAG> (dashes become underscores)
or as a key in the YAML file given to --config.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd.Flags(), configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runFiles(ctx, cmd.OutOrStdout(), s, args)
		},
	}
	defineRunFlags(cmd.Flags())
	cmd.Flags().StringVar(&configFile, "config", "", "YAML settings file")
	return cmd
}

// fileOutcome is one file's result as printed and recorded.
type fileOutcome struct {
	Path       string        `json:"path" yaml:"path"`
	Harness    string        `json:"harness,omitempty" yaml:"harness,omitempty"`
	Passed     int           `json:"passed" yaml:"passed"`
	Failed     int           `json:"failed" yaml:"failed"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
	RunError   string        `json:"runError,omitempty" yaml:"run_error,omitempty"`
	DurationMS int64         `json:"durationMs" yaml:"duration_ms"`
	Cases      []caseOutcome `json:"cases,omitempty" yaml:"cases,omitempty"`

	report *wptworker.Report
	runErr error
}

type caseOutcome struct {
	Name    string `json:"name" yaml:"name"`
	Status  string `json:"status" yaml:"status"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

func newOutcome(rel string, rep *wptworker.Report, runErr error) fileOutcome {
	out := fileOutcome{Path: rel, runErr: runErr, report: rep}
	if runErr != nil {
		out.RunError = runErr.Error()
	}
	if rep == nil {
		return out
	}
	out.DurationMS = rep.Duration.Milliseconds()
	out.Passed = rep.Passed()
	out.Failed = rep.Failed()
	if rep.Completion != nil {
		out.Harness = rep.Completion.Status.String()
	}
	if rep.Error != nil {
		out.Error = rep.Error.Name + ": " + rep.Error.Message
	}
	for _, res := range rep.Results {
		out.Cases = append(out.Cases, caseOutcome{Name: res.Name, Status: res.Status.String(), Message: res.Message})
	}
	return out
}

func (o fileOutcome) ok() bool {
	return o.RunError == "" && o.Error == "" && o.Harness == wptworker.HarnessOK.String() && o.Failed == 0
}

func (o fileOutcome) storeOutcome() store.FileOutcome {
	out := store.FileOutcome{Path: o.Path, RunErr: o.runErr}
	if o.report != nil {
		out.Results = o.report.Results
		out.Completion = o.report.Completion
		out.Error = o.report.Error
		out.Duration = o.report.Duration
	}
	return out
}

func runFiles(ctx context.Context, w io.Writer, s settings, args []string) error {
	log := newLogger(s.LogLevel)
	r, err := wptworker.NewRunner(s.runnerConfig(log))
	if err != nil {
		return err
	}
	defer r.Shutdown()

	root := r.CorpusRoot()
	files, err := collectFiles(root, args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no test files found in %s", strings.Join(args, ", "))
	}

	var (
		db    *store.Store
		runID string
	)
	if s.DB != "" {
		db, err = store.Open(s.DB)
		if err != nil {
			return err
		}
		defer db.Close()
		if runID, err = db.BeginRun(wptworker.EngineName, s.URL); err != nil {
			return err
		}
	}

	outcomes := make([]fileOutcome, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Parallel)
	for i, path := range files {
		g.Go(func() error {
			rep, runErr := r.RunFile(gctx, path)
			outcomes[i] = newOutcome(relPath(root, path), rep, runErr)
			log.Info().Str("path", outcomes[i].Path).Bool("ok", outcomes[i].ok()).
				Int64("ms", outcomes[i].DurationMS).Msg("file finished")
			if db != nil {
				if err := db.RecordFile(runID, outcomes[i].storeOutcome()); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if db != nil {
		if err := db.FinishRun(runID); err != nil {
			return err
		}
	}

	sum := summarize(outcomes)
	sum.RunID = runID
	if err := writeReport(w, s.Format, outcomes, sum); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if sum.FailedFiles > 0 {
		return errTestsFailed
	}
	return nil
}

// collectFiles expands args into a sorted, de-duplicated list of absolute
// test paths. Relative arguments that do not exist under the working
// directory are looked up under root.
func collectFiles(root string, args []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}
	for _, arg := range args {
		path := arg
		if _, err := os.Stat(path); err != nil && !filepath.IsAbs(path) {
			path = filepath.Join(root, arg)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", arg, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("test path %s: %w", arg, err)
		}
		if !info.IsDir() {
			add(abs)
			continue
		}
		err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != abs && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if wptfile.IsTest(p) {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", arg, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}
