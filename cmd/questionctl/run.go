package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/feedbackloop/question-engine/internal/models"
	"github.com/spf13/cobra"
)

func selectCmd() *cobra.Command {
	var (
		questionIDs []string
		maxDuration float64
		strategy    string
		sessionID   string
	)

	cmd := &cobra.Command{
		Use:   "select [business-id]",
		Short: "Run the selection pipeline once and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, store, err := openEngine(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			selection, err := svc.Select(context.Background(), models.SelectionRequest{
				BusinessID:         args[0],
				SessionID:          sessionID,
				QuestionIDs:        questionIDs,
				Balance:            models.BalanceConfig{Strategy: models.BalanceStrategy(strategy)},
				MaxDurationSeconds: maxDuration,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(selection)
		},
	}

	cmd.Flags().StringSliceVarP(&questionIDs, "questions", "q", nil, "candidate question ids (default: every question of the business)")
	cmd.Flags().Float64Var(&maxDuration, "max-duration", 0, "time budget in seconds, 0 disables time boxing")
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "balance strategy (equal_distribution, weighted_urgency, time_sensitive, business_priority)")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id recorded with trigger activations")

	return cmd
}

func sweepCmd() *cobra.Command {
	var businesses []string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the adaptive frequency sweep now and print the digests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(businesses) > 0 {
				cfg.AdaptiveBusinesses = businesses
			}
			if len(cfg.AdaptiveBusinesses) == 0 {
				return fmt.Errorf("no businesses to sweep, set ADAPTIVE_BUSINESSES or --business")
			}
			svc, store, err := openEngine(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			return svc.RunAdaptiveSweep(context.Background())
		},
	}

	cmd.Flags().StringSliceVarP(&businesses, "business", "b", nil, "businesses to sweep (overrides ADAPTIVE_BUSINESSES)")
	return cmd
}
