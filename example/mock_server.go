package main

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// mockBot tracks whether a fake bot is answering and when that flips.
type mockBot struct {
	up           bool
	nextChangeAt time.Time
}

// StartMockBotServer runs fake bots under /bots/{name} that flip between
// 200 and 503 every 20-60 seconds, and a customers document at
// /customers.json pointing at them.
// Call this in a goroutine before starting PingKeeper.
func StartMockBotServer(addr string) {
	var (
		bots = make(map[string]*mockBot)
		mu   sync.Mutex
	)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /customers.json", func(w http.ResponseWriter, r *http.Request) {
		base := "http://" + r.Host + "/bots/"
		doc := map[string]map[string]string{
			"admin": {"Demo": base + "demo"},
			"acme": {
				"Support": base + "support",
				"Sales":   base + "sales",
			},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(doc); err != nil {
			slog.Error("failed to write customers document", "error", err)
		}
	})

	mux.HandleFunc("GET /bots/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")

		// simulate a slow wake-up
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
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("awake"))
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("mock server error", "error", err)
	}
}
