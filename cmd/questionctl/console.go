package main

import (
	"fmt"
	"strings"

	"github.com/feedbackloop/question-engine/internal/models"
)

// consoleNotifier prints digests and alerts to the terminal
type consoleNotifier struct{}

func (c *consoleNotifier) SendDigest(digest *models.Digest) error {
	fmt.Println("\n" + strings.Repeat("=", 70))
	fmt.Printf("ADAPTIVE FREQUENCY DIGEST - %s\n", digest.BusinessID)
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Period:    %s\n", digest.Period)
	fmt.Printf("Generated: %s\n", digest.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC"))

	for _, key := range []string{"questions", "increased", "decreased", "unchanged", "insufficient_data", "errors"} {
		fmt.Printf("  %-18s %v\n", key+":", digest.Summary[key])
	}

	applied := 0
	for _, a := range digest.Adjustments {
		if !a.Applied {
			continue
		}
		if applied == 0 {
			fmt.Println("\nAdjustments:")
		}
		applied++
		fmt.Printf("  %-20s %3d -> %-3d (x%.2f, response rate %.0f%%)\n",
			a.QuestionID, a.OldTarget, a.NewTarget, a.Multiplier, a.Metrics.ResponseRate*100)
	}
	if applied == 0 {
		fmt.Println("\nNo targets changed.")
	}
	return nil
}

func (c *consoleNotifier) SendAlert(alert *models.Alert) error {
	fmt.Printf("ALERT [%s] %s: %s\n", alert.Severity, alert.Title, alert.Message)
	return nil
}
