package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cashbackfinance/advisor-chat/internal/intake"
)

func newTopicsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Show the active topic table",
		Args:  cobra.NoArgs,
		RunE:  runTopics,
	}
	cmd.Flags().Bool("yaml", false, "Print the full table as YAML")
	return cmd
}

func runTopics(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("topics")
	asYAML, _ := cmd.Flags().GetBool("yaml")

	table, err := intake.LoadTopics(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asYAML {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(table); err != nil {
			return err
		}
		return enc.Close()
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tTITLE\tKEYWORDS\tFIELDS")
	for _, t := range table.Topics {
		fields := make([]string, 0, len(t.Fields))
		for _, f := range t.Fields {
			fields = append(fields, f.Key)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", t.Key, t.Title, len(t.Keywords), strings.Join(fields, ","))
	}
	return w.Flush()
}
