package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/valmera/ordercore/internal/domain/operation"
	"github.com/valmera/ordercore/internal/domain/promotion"
	"github.com/valmera/ordercore/internal/domain/shipping"
	"github.com/valmera/ordercore/internal/repository"
)

func main() {
	var databaseURL string

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedShippingMethods(ctx, repository.NewShippingMethodRepository(pool)); err != nil {
		return errors.Wrap(err, "seed shipping methods")
	}

	if err := seedPromotions(ctx, repository.NewPromotionRepository(pool)); err != nil {
		return errors.Wrap(err, "seed promotions")
	}

	return nil
}

func seedShippingMethods(ctx context.Context, repo *repository.ShippingMethodRepository) error {
	slog.Info("seeding shipping methods")

	methods := []*shipping.Method{
		{
			ID:          "standard",
			Code:        "standard",
			Name:        "Standard shipping",
			Description: "3-5 business days, free on orders over $50",
			Checker:     instance("always_eligible"),
			Calculator: instance("free_over_threshold",
				arg("rate", "500"), arg("threshold", "5000")),
		},
		{
			ID:          "express",
			Code:        "express",
			Name:        "Express shipping",
			Description: "Next business day",
			Checker:     instance("always_eligible"),
			Calculator:  instance("flat_rate", arg("rate", "1500")),
		},
		{
			ID:          "freight",
			Code:        "freight",
			Name:        "Freight",
			Description: "Palletized delivery for large orders",
			Checker:     instance("min_order_total", arg("minimum", "50000")),
			Calculator:  instance("flat_rate", arg("rate", "9500")),
		},
	}

	for i, m := range methods {
		if err := repo.Upsert(ctx, m, true, i); err != nil {
			return errors.Wrapf(err, "upsert shipping method %s", m.ID)
		}
		slog.Info("upserted shipping method", slog.String("id", m.ID), slog.String("name", m.Name))
	}

	return nil
}

func seedPromotions(ctx context.Context, repo *repository.PromotionRepository) error {
	slog.Info("seeding promotions")

	promos := []*promotion.Promotion{
		{
			ID:         "welcome10",
			Name:       "Welcome: 10% off with code WELCOME10",
			Enabled:    true,
			CouponCode: "WELCOME10",
			UsageLimit: 1000,
			Actions:    []operation.Instance{instance("order_percentage_discount", arg("discount", "10"))},
		},
		{
			ID:         "bulk-discount",
			Name:       "$15 off orders over $150",
			Enabled:    true,
			Conditions: []operation.Instance{
				instance("minimum_order_amount", arg("amount", "15000")),
			},
			Actions: []operation.Instance{
				instance("order_fixed_discount", arg("amount", "1500")),
			},
		},
		{
			ID:         "bogo",
			Name:       "Cheapest item free with code BUYGETONE",
			Enabled:    true,
			CouponCode: "BUYGETONE",
			Actions:    []operation.Instance{instance("free_cheapest_item")},
		},
	}

	for _, p := range promos {
		if err := repo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert promotion %s", p.ID)
		}
		slog.Info("upserted promotion", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func instance(code string, args ...operation.Arg) operation.Instance {
	return operation.Instance{Code: code, Args: args}
}

func arg(name, value string) operation.Arg {
	return operation.Arg{Name: name, Value: value}
}
