package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/feedbackloop/question-engine/internal/config"
	"github.com/feedbackloop/question-engine/internal/engine"
	"github.com/feedbackloop/question-engine/internal/models"
	"github.com/feedbackloop/question-engine/internal/storage"
	"github.com/spf13/cobra"
)

var categories = []string{"checkout", "service", "cleanliness", "menu", "staff"}

func selftestCmd() *cobra.Command {
	var questions int

	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Run the engine against synthetic data in memory and check latency budgets",
		Long: `Seed an in-memory store with synthetic questions and triggers, then run
harmonization (30 questions, 500ms budget), balancing (50 questions, 1s
budget), a full selection and an adaptive sweep.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelftest(context.Background(), questions)
		},
	}

	cmd.Flags().IntVarP(&questions, "questions", "n", 50, "number of synthetic questions")
	return cmd
}

func check(name string, elapsed, budget time.Duration) bool {
	ok := elapsed <= budget
	mark := "PASS"
	if !ok {
		mark = "FAIL"
	}
	fmt.Printf("  %-28s %-6s %10v (budget %v)\n", name, mark, elapsed.Round(time.Microsecond), budget)
	return ok
}

func runSelftest(ctx context.Context, n int) error {
	if n < 30 {
		return fmt.Errorf("selftest needs at least 30 questions, got %d", n)
	}

	dir, err := os.MkdirTemp("", "questionctl-selftest")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	archive, err := storage.NewFileArchive(dir)
	if err != nil {
		return err
	}

	const business = "selftest"
	cfg := &config.Config{AdaptiveSchedule: "daily", AdaptiveBusinesses: []string{business}, CacheMaxEntries: 10000}
	store := storage.NewMemoryStore()
	svc := engine.NewService(cfg, store, archive, &consoleNotifier{})

	fmt.Println("Question engine self-test")
	fmt.Println(strings.Repeat("=", 40))

	forHarmonization := make([]models.QuestionForHarmonization, 0, n)
	forBalancing := make([]models.QuestionForBalancing, 0, n)
	for i := 0; i < n; i++ {
		q := &models.Question{
			ID:              fmt.Sprintf("q-%03d", i),
			BusinessID:      business,
			Text:            fmt.Sprintf("How would you rate our %s today, from one to five?", categories[i%len(categories)]),
			Category:        categories[i%len(categories)],
			TopicCategory:   "experience",
			PriorityLevel:   i%5 + 1,
			FrequencyTarget: 5 + i%7,
			FrequencyWindow: models.WindowDaily,
		}
		if err := svc.UpsertQuestion(ctx, q); err != nil {
			return err
		}
		trigger := &models.Trigger{
			ID:         "t-" + q.ID,
			QuestionID: q.ID,
			Type:       models.TriggerFrequencyBased,
			Priority:   models.TriggerPriorityMedium,
			Enabled:    true,
			Conditions: models.TriggerConditions{Frequency: &models.FrequencyConditions{MinVisitCount: i % 3}},
		}
		if err := svc.Evaluator().UpsertTrigger(ctx, trigger); err != nil {
			return err
		}

		forHarmonization = append(forHarmonization, models.QuestionForHarmonization{
			ID: q.ID, BusinessID: business, Category: q.Category, PriorityLevel: q.PriorityLevel,
			CurrentFrequency: float64(q.FrequencyTarget - i%3), TargetFrequency: float64(q.FrequencyTarget),
		})
		forBalancing = append(forBalancing, models.QuestionForBalancing{
			ID: q.ID, Text: q.Text, Category: q.Category, BasePriority: float64(q.PriorityLevel),
			CustomerRelevance: float64(i % 5), BusinessImportance: float64((i + 2) % 5), RecencyScore: float64(i % 6),
		})
	}
	fmt.Printf("Seeded %d questions with triggers\n\n", n)

	passed := true

	start := time.Now()
	harmonized, err := svc.Harmonizer().Harmonize(ctx, forHarmonization[:30], "", models.HarmonizeOptions{Strategy: models.StrategyLCMFrequency})
	if err != nil {
		return err
	}
	passed = check("harmonize 30 (lcm)", time.Since(start), 500*time.Millisecond) && passed

	start = time.Now()
	if _, err := svc.Balancer().Balance(ctx, forBalancing[:50], models.BalanceConfig{Strategy: models.BalanceWeightedUrgency}); err != nil {
		return err
	}
	passed = check("balance 50 (weighted)", time.Since(start), time.Second) && passed

	start = time.Now()
	selection, err := svc.Select(ctx, models.SelectionRequest{
		BusinessID:         business,
		Context:            models.EvaluationContext{Customer: models.CustomerContext{VisitCount: 1}},
		MaxDurationSeconds: 120,
	})
	if err != nil {
		return err
	}
	passed = check("select (time-boxed 120s)", time.Since(start), time.Second) && passed

	for _, q := range selection.Questions {
		if _, err := svc.ReportPresentation(ctx, q.ID); err != nil {
			return err
		}
	}

	fmt.Printf("\nHarmonization: %d conflicts, average frequency ratio %.2f\n",
		harmonized.TotalConflicts, harmonized.AverageFrequencyRatio)
	fmt.Printf("Selection: %d selected, %d skipped, %.0fs estimated\n",
		len(selection.Questions), len(selection.Skipped), selection.TotalDuration)

	if err := svc.RunAdaptiveSweep(ctx); err != nil {
		return err
	}

	if !passed {
		return fmt.Errorf("self-test exceeded latency budgets")
	}
	fmt.Println("\nSelf-test passed")
	return nil
}
