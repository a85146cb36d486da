// Standalone mock bot server for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/pingkeeper serve -c example/config.yaml
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"
)

func main() {
	fmt.Println("Mock bot server starting on :9999")
	fmt.Println("Bots flip between 200 and 503 every 20-60s")
	fmt.Println("Customers document: http://localhost:9999/customers.json")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	var (
		bots = make(map[string]*mockBot)
		mu   sync.Mutex
	)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /customers.json", func(w http.ResponseWriter, r *http.Request) {
		base := "http://" + r.Host + "/bots/"
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]map[string]string{
			"acme": {
				"Support": base + "support",
				"Sales":   base + "sales",
			},
			"globex": {"Helpdesk": base + "helpdesk"},
		})
	})

	mux.HandleFunc("GET /bots/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")

		time.Sleep(time.Duration(50+rand.Intn(150)) * time.Millisecond)

		mu.Lock()
		bot, exists := bots[name]
		if !exists {
			bot = &mockBot{
				up:           true,
				nextChangeAt: time.Now().Add(time.Duration(20+rand.Intn(41)) * time.Second),
			}
			bots[name] = bot
		}
		if time.Now().After(bot.nextChangeAt) {
			bot.up = !bot.up
			bot.nextChangeAt = time.Now().Add(time.Duration(20+rand.Intn(41)) * time.Second)
			slog.Info("bot flipped", "bot", name, "up", bot.up)
		}
		up := bot.up
		mu.Unlock()

		if !up {
			http.Error(w, "sleeping", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("awake"))
	})

	if err := http.ListenAndServe(":9999", mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

type mockBot struct {
	up           bool
	nextChangeAt time.Time
}
