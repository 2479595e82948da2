package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ocs-answerer/internal/manual"
	"github.com/sells-group/ocs-answerer/internal/model"
)

var (
	manualType   string
	manualNote   string
	manualLookup string
)

var manualCmd = &cobra.Command{
	Use:   "manual",
	Short: "Manage the manual answer bank",
}

// openManual loads the configured manual bank for a one-off edit.
func openManual() (*manual.Bank, error) {
	mb, err := initManual()
	if err != nil {
		return nil, err
	}
	if mb == nil {
		return nil, eris.New("manual bank disabled (set manual.path)")
	}
	return mb, nil
}

// parseManualType maps a flag value onto a question type. Empty stays
// empty so the bank applies its default.
func parseManualType(s string) (model.QuestionType, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	t := model.ParseQuestionType(s)
	if t == model.TypeUnknown {
		return "", eris.Errorf("unknown question type %q", s)
	}
	return t, nil
}

var manualListCmd = &cobra.Command{
	Use:   "list",
	Short: "List manual entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		mb, err := openManual()
		if err != nil {
			return err
		}
		if manualLookup != "" {
			t, err := parseManualType(manualType)
			if err != nil {
				return err
			}
			e, kind, ok := mb.Lookup(manualLookup, t)
			if !ok {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no match")
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s match\n", kind)
			formatManualEntries(cmd.OutOrStdout(), []manual.Entry{e})
			return nil
		}
		formatManualEntries(cmd.OutOrStdout(), mb.List())
		return nil
	},
}

var manualAddCmd = &cobra.Command{
	Use:   "add <question> <answer>",
	Short: "Add or replace a manual entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mb, err := openManual()
		if err != nil {
			return err
		}
		t, err := parseManualType(manualType)
		if err != nil {
			return err
		}
		e := manual.Entry{Question: args[0], Answer: args[1], Type: t, Note: manualNote}
		if err := mb.Add(cmd.Context(), e); err != nil {
			return eris.Wrap(err, "manual add")
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "saved, %d entries\n", mb.Len())
		return nil
	},
}

var manualRemoveCmd = &cobra.Command{
	Use:   "remove <question>",
	Short: "Remove manual entries for a question (all types unless --type is set)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mb, err := openManual()
		if err != nil {
			return err
		}
		t, err := parseManualType(manualType)
		if err != nil {
			return err
		}
		n, err := mb.Remove(cmd.Context(), args[0], t)
		if err != nil {
			return eris.Wrap(err, "manual remove")
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", n)
		return nil
	},
}

var manualClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every manual entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		mb, err := openManual()
		if err != nil {
			return err
		}
		n := mb.Len()
		if err := mb.Clear(cmd.Context()); err != nil {
			return eris.Wrap(err, "manual clear")
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", n)
		return nil
	},
}

var manualImportCmd = &cobra.Command{
	Use:   "import <file.xlsx>",
	Short: "Merge a spreadsheet (question, answer, type, note) into the manual bank",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mb, err := openManual()
		if err != nil {
			return err
		}
		res, err := mb.ImportXLSX(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrap(err, "manual import")
		}
		for _, issue := range res.Skipped {
			zap.L().Warn("row skipped", zap.String("issue", issue.String()))
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "imported %d entries, skipped %d\n", res.Imported, len(res.Skipped))
		return nil
	},
}

// formatManualEntries writes a table of manual entries to out.
func formatManualEntries(out io.Writer, entries []manual.Entry) {
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(out, "no manual entries")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TYPE\tQUESTION\tANSWER\tNOTE")
	_, _ = fmt.Fprintln(w, "----\t--------\t------\t----")
	for _, e := range entries {
		t := string(e.Type)
		if !e.Typed {
			t += "*"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t, truncate(e.Question, 60), truncate(e.Answer, 40), e.Note)
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func init() {
	manualListCmd.Flags().StringVar(&manualLookup, "lookup", "", "show the entry that would answer this question")
	for _, c := range []*cobra.Command{manualListCmd, manualAddCmd, manualRemoveCmd} {
		c.Flags().StringVar(&manualType, "type", "", "question type")
	}
	manualAddCmd.Flags().StringVar(&manualNote, "note", "", "operator note, never returned to clients")
	manualCmd.AddCommand(manualListCmd, manualAddCmd, manualRemoveCmd, manualClearCmd, manualImportCmd)
	rootCmd.AddCommand(manualCmd)
}
