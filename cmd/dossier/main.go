// Command dossier runs the lead-intake pipeline over a saved conversation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cashbackfinance/advisor-chat/internal/intake"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dossier",
		Short: "Inspect consent and extracted lead data for a conversation",
		Long: `dossier runs the same consent classifier, entity extractor and note
renderer the chat server uses, without calling the CRM.

Examples:
  # Consent decision and dossier as JSON
  dossier analyze conversation.json

  # CRM note as it would be posted
  cat conversation.json | dossier analyze - --format note

  # Active topic table
  dossier topics --topics ./topics.yaml`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("topics", "", "Topic table YAML (default: embedded table)")
	root.PersistentFlags().Int("user-window", intake.DefaultConsentUserWindow, "Number of recent user turns scanned for consent")
	root.PersistentFlags().Int("adjacency-window", intake.DefaultConsentAdjacencyWindow, "Turns scanned for a question followed by a yes")

	root.AddCommand(newAnalyzeCmd())
	root.AddCommand(newTopicsCmd())
	return root
}

func analyzerFromFlags(cmd *cobra.Command) (*intake.Analyzer, error) {
	path, _ := cmd.Flags().GetString("topics")
	userWindow, _ := cmd.Flags().GetInt("user-window")
	adjacency, _ := cmd.Flags().GetInt("adjacency-window")

	topics, err := intake.LoadTopics(path)
	if err != nil {
		return nil, err
	}
	return intake.NewAnalyzer(topics, intake.ConsentOptions{
		UserWindow:      userWindow,
		AdjacencyWindow: adjacency,
	}), nil
}
