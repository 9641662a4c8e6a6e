// Command generate loads the rating model once, prints a sample recommendation list and then
// regenerates the saved recommendations for a random sample of users.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/temcen/ratingrec/internal/app"
	"github.com/temcen/ratingrec/internal/config"
	"github.com/temcen/ratingrec/internal/database"
	"github.com/temcen/ratingrec/internal/services"
)

func main() {
	pflag.Int("sample", 0, "number of users to generate for (0 uses engine.default_sample_users)")
	pflag.Int64("seed", 0, "sampling seed (0 picks a random one)")
	pflag.Int("top-n", 0, "recommendations per user (0 uses engine.default_top_n)")
	pflag.Parse()
	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		log.Fatalf("Failed to bind flags: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := app.SetupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("Generation failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	db, err := database.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if err := database.EnsureResultTables(ctx, db.PG); err != nil {
		return fmt.Errorf("failed to prepare result tables: %w", err)
	}

	svc, err := services.New(cfg, logger, db, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	if svc.MessageBus != nil {
		defer svc.MessageBus.Close()
	}

	info, err := svc.Engine.Reload(ctx)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"users":    info.Users,
		"products": info.Products,
		"ratings":  info.Ratings,
	}).Info("Model loaded")

	topN := viper.GetInt("top-n")
	if topN <= 0 {
		topN = cfg.Engine.DefaultTopN
	}

	if users := svc.Snapshots.Current().UserIDs(); len(users) > 0 {
		recs, err := svc.Engine.Recommend(ctx, users[0], topN)
		if err != nil {
			logger.WithError(err).WithField("user_id", users[0]).Warn("Demo recommendation failed")
		} else {
			fmt.Printf("Recommendations for user %d:\n", users[0])
			for _, r := range recs {
				fmt.Printf("  %2d. %-16s %.3f\n", r.Rank, r.ProductID, r.PredictedRating)
			}
		}
	}

	opts := services.BatchOptions{SampleSize: viper.GetInt("sample"), TopN: topN}
	if opts.SampleSize <= 0 {
		opts.SampleSize = cfg.Engine.DefaultSampleUsers
	}
	if seed := viper.GetInt64("seed"); seed != 0 {
		opts.Seed = &seed
	}

	summary, err := svc.Engine.RunBatch(ctx, opts)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
