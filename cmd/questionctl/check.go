package main

import (
	"context"
	"fmt"
	"time"

	"github.com/feedbackloop/question-engine/internal/models"
	"github.com/feedbackloop/question-engine/internal/notifications"
	"github.com/feedbackloop/question-engine/internal/storage"
	"github.com/spf13/cobra"
)

func checkCmd() *cobra.Command {
	var sendAlert bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check connectivity to the store, the report archive and notification channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			failed := 0
			report := func(name string, err error, detail string) {
				if err != nil {
					failed++
					fmt.Printf("  %-14s ERROR: %v\n", name, err)
					return
				}
				fmt.Printf("  %-14s OK %s\n", name, detail)
			}

			fmt.Println("Connectivity check")

			store, err := storage.OpenStore(cfg.DatabasePath, cfg.MigrationsDir)
			if err == nil {
				_, err = store.ListQuestions(context.Background(), "healthcheck")
				store.Close()
			}
			report("store", err, cfg.DatabasePath)

			archive, err := storage.OpenArchive(cfg.StorageAccount, cfg.StorageContainer, cfg.ArchiveDir)
			var names []string
			if err == nil {
				names, err = archive.List("digests/")
			}
			report("archive", err, fmt.Sprintf("(%d digests)", len(names)))

			switch {
			case cfg.TeamsWebhookURL == "" && cfg.NotificationEmail == "":
				fmt.Printf("  %-14s DISABLED (no TEAMS_WEBHOOK_URL or NOTIFICATION_EMAIL)\n", "notifications")
			case !sendAlert:
				fmt.Printf("  %-14s configured, pass --send-alert to deliver a test message\n", "notifications")
			default:
				err := notifications.NewService(cfg).SendAlert(&models.Alert{
					Type:      "connectivity_check",
					Severity:  models.SeverityLow,
					Title:     "Question engine connectivity check",
					Message:   "This is a test alert sent by questionctl check.",
					CreatedAt: time.Now(),
				})
				report("notifications", err, "test alert sent")
			}

			if failed > 0 {
				return fmt.Errorf("%d connectivity checks failed", failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&sendAlert, "send-alert", false, "deliver a test alert through the configured Teams webhook")
	return cmd
}
