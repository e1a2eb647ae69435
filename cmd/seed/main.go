package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"copycatch/internal/config"
	"copycatch/internal/db"
	"copycatch/internal/game"
	"copycatch/internal/ledger"
	"copycatch/internal/queue"
)

func main() {
	names := flag.String("players", "alice,bob,carol", "comma-separated player names to create")
	migrateFirst := flag.Bool("migrate", false, "run auto-migration before seeding")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	cfg := config.Load()

	conn, err := db.Open()
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	if *migrateFirst {
		if err := db.Migrate(conn); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
	}

	led := ledger.New(conn, slog.Default())
	pq := queue.New(
		cfg.QueueDiscountThreshold,
		time.Duration(cfg.RecentCopyWindowSeconds)*time.Second,
		time.Duration(cfg.ReclaimCooldownSeconds)*time.Second,
	)
	svc := game.NewService(conn, cfg, led, pq, slog.Default())

	ctx := context.Background()
	for _, name := range strings.Split(*names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		player, err := svc.CreatePlayer(ctx, name)
		if err != nil {
			log.Fatalf("failed to create player %q: %v", name, err)
		}
		fmt.Printf("%s\tid=%d\ttoken=%s\tbalance=%d\n", player.Name, player.ID, player.APIToken, player.Balance)
	}
}
