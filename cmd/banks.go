package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ocs-answerer/internal/bank"
)

var banksSimple bool

var banksCmd = &cobra.Command{
	Use:   "banks",
	Short: "Validate or print question bank definitions",
}

var banksValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate bank definitions from a file or the configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			raw []byte
			err error
		)
		if len(args) == 1 {
			raw, err = os.ReadFile(args[0])
			if err != nil {
				return eris.Wrapf(err, "read %s", args[0])
			}
		} else if raw, err = cfg.Banks.Raw(); err != nil {
			return err
		}

		configs, err := bank.ParseConfigs(raw)
		if err != nil {
			var cerr *bank.ConfigError
			if errors.As(err, &cerr) {
				for _, p := range cerr.Problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
			}
			return eris.Wrap(err, "banks validate")
		}

		formatBanks(cmd.OutOrStdout(), configs)
		return nil
	},
}

var banksExampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Print an example bank definition",
	RunE: func(cmd *cobra.Command, args []string) error {
		example := bank.ExampleConfigs()
		if banksSimple {
			example = bank.SimpleConfigs()
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(example)
	},
}

// formatBanks writes a table of validated bank definitions.
func formatBanks(out io.Writer, configs []bank.Config) {
	if len(configs) == 0 {
		_, _ = fmt.Fprintln(out, "no question banks configured")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tMETHOD\tURL")
	_, _ = fmt.Fprintln(w, "----\t------\t---")
	for _, c := range configs {
		method := c.Method
		if method == "" {
			method = bank.MethodGet
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, method, c.URL)
	}
	_ = w.Flush()
}

func init() {
	banksExampleCmd.Flags().BoolVar(&banksSimple, "simple", false, "print the minimal example")
	banksCmd.AddCommand(banksValidateCmd, banksExampleCmd)
	rootCmd.AddCommand(banksCmd)
}
