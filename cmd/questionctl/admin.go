package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/feedbackloop/question-engine/internal/fixtures"
	"github.com/feedbackloop/question-engine/internal/storage"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the SQLite schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabasePath == storage.MemoryDatabase {
				return fmt.Errorf("nothing to migrate for the in-memory store")
			}
			store, err := storage.OpenSQLite(cfg.DatabasePath, cfg.MigrationsDir)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Printf("Migrations applied to %s\n", cfg.DatabasePath)
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [fixture.yaml]",
		Short: "Load questions, triggers, harmonizer rules and priority weights from YAML",
		Long: `Load a YAML seed file through the engine's validation.

Example:
  questionctl seed fixtures/demo.yaml --db question-engine.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fixture, err := fixtures.LoadFile(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, store, err := openEngine(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			summary, err := fixtures.Apply(context.Background(), svc, fixture)
			fmt.Printf("Seeded %d questions, %d triggers, %d harmonizer rules, %d priority weights\n",
				summary.Questions, summary.Triggers, summary.Harmonizers, summary.PriorityWeights)
			return err
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [business-id]",
		Short: "Show frequency status of every question of a business",
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

			ctx := context.Background()
			questions, err := svc.ListQuestions(ctx, args[0])
			if err != nil {
				return err
			}
			if len(questions) == 0 {
				fmt.Printf("No questions for business %s\n", args[0])
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "QUESTION\tLEVEL\tWINDOW\tCOUNT\tTARGET\tNEXT RESET\tCAN PRESENT")
			for _, q := range questions {
				status, err := svc.Tracker().GetStatus(ctx, q.ID)
				if err != nil {
					fmt.Fprintf(w, "%s\t%d\t%s\terror: %v\t\t\t\n", q.ID, q.PriorityLevel, q.FrequencyWindow, err)
					continue
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%d\t%s\t%t\n", q.ID, q.PriorityLevel, status.Window,
					status.CurrentCount, status.TargetCount, status.NextReset.Format("2006-01-02 15:04 MST"), status.CanPresent)
			}
			w.Flush()

			recs, err := svc.Tracker().GetFrequencyRecommendations(ctx, args[0], cfg.AdaptiveConfig())
			if err != nil {
				return err
			}
			fmt.Println("\nRecommendations:")
			for _, r := range recs {
				fmt.Printf("  %-20s %-18s %s\n", r.QuestionID, strings.ToUpper(r.Action), r.Reason)
			}
			return nil
		},
	}
}
