package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ocs-answerer/internal/model"
	"github.com/sells-group/ocs-answerer/internal/normalize"
)

var (
	askType    string
	askOptions string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Resolve one question through the pipeline and print the result",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		req := model.NewRequest(strings.Join(args, " "), model.ParseQuestionType(askType), normalize.CleanText(askOptions))
		out, err := env.Resolver.Resolve(ctx, req)
		if err != nil {
			return eris.Wrap(err, "ask")
		}
		if !out.Found {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no answer found")
			return nil
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(out.Result)
	},
}

func init() {
	askCmd.Flags().StringVar(&askType, "type", "", "question type (single, multiple, judgment, completion); detected when empty")
	askCmd.Flags().StringVar(&askOptions, "options", "", "options, one per line")
	rootCmd.AddCommand(askCmd)
}
