package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/pingkeeper"
)

func main() {
	// start mock bots and customers document (see mock_server.go)
	go StartMockBotServer(":9999")
	time.Sleep(100 * time.Millisecond)

	pk, err := pingkeeper.New(
		pingkeeper.WithTitle("PingKeeper Demo"),
		pingkeeper.WithCustomersURL("http://localhost:9999/customers.json"),
		pingkeeper.WithCustomers(map[string]map[string]string{
			"admin": {"GitHub": "https://api.github.com"},
		}),
		pingkeeper.WithPingInterval(time.Minute),
		pingkeeper.WithRefreshInterval(10*time.Second),
		pingkeeper.WithPause(500*time.Millisecond),
		pingkeeper.WithTriggerKey("demo"),
		pingkeeper.WithPort(8080),
		pingkeeper.WithStatusCallback(func(r pingkeeper.StatusResult) {
			if r.Status == pingkeeper.StatusDown || r.Status == pingkeeper.StatusRecovered {
				slog.Info("bot changed", "url", r.URL, "status", r.Status.String())
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create pingkeeper", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  PingKeeper demo")
	fmt.Println()
	fmt.Println("  Landing:  http://localhost:8080/")
	fmt.Println("  All bots: http://localhost:8080/admin")
	fmt.Println("  Customer: http://localhost:8080/acme")
	fmt.Println("  Trigger:  http://localhost:8080/trigger_ping?key=demo")
	fmt.Println()
	fmt.Println("  Mock bots flip between 200 and 503 every 20-60s.")
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pk.Start(ctx); err != nil {
		slog.Error("pingkeeper error", "error", err)
		os.Exit(1)
	}
}
