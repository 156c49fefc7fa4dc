package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/mail-pilot/internal/pipeline"
	"github.com/xaenox/mail-pilot/internal/source"
)

var runCmd = &cobra.Command{
	Use:   "run <batch-file>",
	Short: "Process a JSON or YAML batch of messages and print the result",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatch,
}

func init() {
	runCmd.Flags().StringP("method", "m", "", "categorization method: none, enhanced or hybrid (default from config)")
	runCmd.Flags().StringP("tone", "t", "", "reply tone: professional, friendly, formal or helpful (default from config)")
	runCmd.Flags().Bool("risk", true, "include phishing risk analysis")
	runCmd.Flags().Bool("replies", false, "draft replies")
	runCmd.Flags().Int("lookback", 0, "only process messages received within this many hours (0 for all)")
	runCmd.Flags().StringP("output", "o", "", "write the result to a file instead of stdout")
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	configPath, _ := cmd.Flags().GetString("config")
	a, err := loadApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	method, _ := cmd.Flags().GetString("method")
	if method == "" {
		method = a.cfg.Pipeline.Method
	}
	tone, _ := cmd.Flags().GetString("tone")
	if tone == "" {
		tone = a.cfg.Pipeline.Tone
	}
	withRisk, _ := cmd.Flags().GetBool("risk")
	withReplies, _ := cmd.Flags().GetBool("replies")
	lookback, _ := cmd.Flags().GetInt("lookback")

	msgs, err := source.NewFileSource(args[0]).Fetch(ctx, time.Duration(lookback)*time.Hour)
	if err != nil {
		return err
	}
	a.logger.Info("Loaded batch", zap.String("path", args[0]), zap.Int("messages", len(msgs)))

	res, runErr := a.pipeline.RunSync(ctx, pipeline.Request{
		Messages:            msgs,
		Method:              method,
		IncludeRiskAnalysis: withRisk,
		IncludeReplies:      withReplies,
		Tone:                tone,
	})
	if res == nil {
		return runErr
	}

	out := cmd.OutOrStdout()
	if path, _ := cmd.Flags().GetString("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}
	if err := writeResult(out, res); err != nil {
		return err
	}
	return runErr
}

func writeResult(w io.Writer, res *pipeline.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
