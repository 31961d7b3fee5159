package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
)

var (
	green = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	red   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	gray  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	cyan  = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
)

type summary struct {
	RunID       string `json:"runId,omitempty" yaml:"run_id,omitempty"`
	Files       int    `json:"files" yaml:"files"`
	PassedFiles int    `json:"passedFiles" yaml:"passed_files"`
	FailedFiles int    `json:"failedFiles" yaml:"failed_files"`
	Passed      int    `json:"passed" yaml:"passed"`
	Failed      int    `json:"failed" yaml:"failed"`
	DurationMS  int64  `json:"durationMs" yaml:"duration_ms"`
}

func summarize(outcomes []fileOutcome) summary {
	s := summary{Files: len(outcomes)}
	for _, o := range outcomes {
		if o.ok() {
			s.PassedFiles++
		} else {
			s.FailedFiles++
		}
		s.Passed += o.Passed
		s.Failed += o.Failed
		s.DurationMS += o.DurationMS
	}
	return s
}

func writeReport(w io.Writer, format string, outcomes []fileOutcome, sum summary) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		for _, o := range outcomes {
			if err := enc.Encode(o); err != nil {
				return err
			}
		}
		return enc.Encode(map[string]summary{"summary": sum})
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(struct {
			Files   []fileOutcome `yaml:"files"`
			Summary summary       `yaml:"summary"`
		}{outcomes, sum}); err != nil {
			return err
		}
		return enc.Close()
	default:
		writeText(w, outcomes, sum)
		return nil
	}
}

func writeText(w io.Writer, outcomes []fileOutcome, sum summary) {
	for _, o := range outcomes {
		mark := green.Render("✓")
		if !o.ok() {
			mark = red.Render("✗")
		}
		fmt.Fprintf(w, "%s %s %s\n", mark, o.Path,
			gray.Render(fmt.Sprintf("(%d/%d, %s)", o.Passed, o.Passed+o.Failed, time.Duration(o.DurationMS)*time.Millisecond)))
		switch {
		case o.RunError != "":
			fmt.Fprintf(w, "    %s\n", red.Render(o.RunError))
		case o.Error != "":
			fmt.Fprintf(w, "    %s\n", red.Render(o.Error))
		case o.Harness != "" && o.Harness != "OK":
			fmt.Fprintf(w, "    %s\n", red.Render("harness status "+o.Harness))
		}
		for _, c := range o.Cases {
			if c.Status == "PASS" {
				continue
			}
			fmt.Fprintf(w, "    %s %s\n", red.Render(c.Status), c.Name)
			if c.Message != "" {
				fmt.Fprintf(w, "      %s\n", gray.Render(firstLine(c.Message)))
			}
		}
	}

	fmt.Fprintln(w)
	files := fmt.Sprintf("%d/%d files", sum.PassedFiles, sum.Files)
	cases := fmt.Sprintf("%d/%d tests", sum.Passed, sum.Passed+sum.Failed)
	style := green
	if sum.FailedFiles > 0 {
		style = red
	}
	fmt.Fprintf(w, "%s %s, %s\n", cyan.Render("●"), style.Render(files), style.Render(cases))
	if sum.RunID != "" {
		fmt.Fprintln(w, gray.Render("recorded as run "+sum.RunID))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}
