// Package main provides a CLI tool for seeding the database with demo
// products and received batches.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"lotledger/internal/app"
	"lotledger/internal/config"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/adjuster"
	"lotledger/internal/domain/catalog"
	"lotledger/internal/domain/ledger"
	"lotledger/pkg/logger"
)

type demoBatch struct {
	number    string
	cost      types.MinorUnits
	quantity  types.Quantity
	expiresIn int // days; 0 means no expiration
}

type demoProduct struct {
	name         string
	sku          string
	price        types.MinorUnits
	reorderPoint *int64
	batches      []demoBatch
}

func ptr[T any](v T) *T { return &v }

var demoProducts = []demoProduct{
	{
		name: "Whole Milk 1L", sku: "MILK-1L", price: 149, reorderPoint: ptr(int64(40)),
		batches: []demoBatch{
			{number: "MLK-0001", cost: 89, quantity: 24, expiresIn: 5},
			{number: "MLK-0002", cost: 95, quantity: 36, expiresIn: 12},
		},
	},
	{
		name: "Espresso Beans 500g", sku: "COF-500", price: 1299,
		batches: []demoBatch{
			{number: "COF-A1", cost: 650, quantity: 10, expiresIn: 180},
			{number: "COF-A2", cost: 710, quantity: 15, expiresIn: 240},
		},
	},
	{
		name: "Dish Soap 750ml", sku: "SOAP-750", price: 399, reorderPoint: ptr(int64(10)),
		batches: []demoBatch{
			{number: "DS-2024-01", cost: 180, quantity: 8},
		},
	},
}

func main() {
	configFile := flag.String("config", "", "path to config file")
	withSales := flag.Bool("sales", false, "record a demo sale per product")
	flag.Parse()

	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
		Service:     "lotledger-seed",
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalw("failed to load config", "error", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("database.url is required (LOTLEDGER_DATABASE_URL)")
	}

	ctx := logger.WithLogger(context.Background(), log)

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}
	defer application.Close()

	log.Info("connected to database")

	if err := seed(ctx, application, log, *withSales); err != nil {
		log.Errorw("failed to seed demo data", "error", err)
		application.Close()
		os.Exit(1)
	}

	log.Info("seeding completed successfully")
}

func seed(ctx context.Context, a *app.App, log *logger.Logger, withSales bool) error {
	existing, err := a.Products.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("list products: %w", err)
	}
	bySKU := make(map[string]catalog.Product, len(existing))
	for _, p := range existing {
		bySKU[p.SKU] = p
	}

	now := time.Now().UTC()
	for _, dp := range demoProducts {
		if p, ok := bySKU[dp.sku]; ok {
			log.Infow("product already exists, skipping", "sku", dp.sku, "id", p.ID)
			continue
		}

		p, err := a.SaveProduct(ctx, catalog.Product{
			Name:                  dp.name,
			SKU:                   dp.sku,
			Price:                 dp.price,
			ReorderPoint:          dp.reorderPoint,
			RequiresBatchTracking: true,
		})
		if err != nil {
			return fmt.Errorf("save product %s: %w", dp.sku, err)
		}

		for _, b := range dp.batches {
			req := adjuster.CreateBatchRequest{
				ProductID:    p.ID,
				BatchNumber:  b.number,
				PurchaseCost: b.cost,
				Quantity:     b.quantity,
				Journal:      adjuster.Journal{Cause: ledger.InitialLoad(), UserID: "seed"},
			}
			if b.expiresIn > 0 {
				req.ExpirationDate = ptr(now.AddDate(0, 0, b.expiresIn))
			}
			if _, err := a.Adjuster.CreateBatch(ctx, req); err != nil {
				return fmt.Errorf("create batch %s: %w", b.number, err)
			}
		}

		if withSales {
			_, err := a.Adjuster.Subtract(ctx, adjuster.SubtractRequest{
				ProductID: p.ID,
				Quantity:  1,
				Journal:   adjuster.Journal{Cause: ledger.Sale("SEED-" + dp.sku), UserID: "seed"},
			})
			if err != nil {
				return fmt.Errorf("sell %s: %w", dp.sku, err)
			}
		}

		log.Infow("seeded product", "sku", dp.sku, "id", p.ID, "batches", len(dp.batches))
	}
	return nil
}
