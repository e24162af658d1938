package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cashbackfinance/advisor-chat/internal/domain"
	"github.com/cashbackfinance/advisor-chat/internal/intake"
)

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [file|-]",
		Short: "Classify consent and build the dossier for a conversation",
		Long: `Reads a conversation as JSON, either a list of {"role","content"} turns
or a chat request body {"messages": [...]}, from a file or stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runAnalyze,
	}
	cmd.Flags().StringP("format", "f", "json", "Output format: json, note")
	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "json" && format != "note" {
		return fmt.Errorf("unknown format %q (want json or note)", format)
	}

	analyzer, err := analyzerFromFlags(cmd)
	if err != nil {
		return err
	}

	data, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	turns, err := decodeTurns(data)
	if err != nil {
		return err
	}

	analysis, err := analyzer.Analyze(turns)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format == "note" {
		_, err = fmt.Fprintln(out, intake.RenderNote(analysis.Dossier, turns))
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(analysis)
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(args[0]) // #nosec G304 - path supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	return data, nil
}

func decodeTurns(data []byte) ([]domain.Turn, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty input")
	}

	var turns []domain.Turn
	if data[0] == '[' {
		if err := json.Unmarshal(data, &turns); err != nil {
			return nil, fmt.Errorf("decode turns: %w", err)
		}
		return turns, nil
	}

	var body struct {
		Messages []domain.Turn `json:"messages"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("decode chat request: %w", err)
	}
	return body.Messages, nil
}
