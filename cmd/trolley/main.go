package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/trolley/internal/api"
	"github.com/dukerupert/trolley/internal/database"
	"github.com/dukerupert/trolley/internal/db"
	"github.com/dukerupert/trolley/internal/logging"
	"github.com/dukerupert/trolley/internal/queue"
	"github.com/dukerupert/trolley/internal/realtime"
	"github.com/dukerupert/trolley/internal/storage"
	"github.com/dukerupert/trolley/internal/syncer"
)

const appVersion = "1.0.0"

func main() {
	logger := logging.Setup(os.Getenv("TROLLEY_LOG_LEVEL"), os.Getenv("TROLLEY_LOG_FORMAT"))

	apiURL := os.Getenv("TROLLEY_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}

	dbPath := os.Getenv("TROLLEY_DB_PATH")
	if dbPath == "" {
		dbPath = "trolley.db"
	}

	backend := os.Getenv("TROLLEY_BACKEND")
	if backend == "" {
		backend = db.BackendRemote
	}

	syncInterval := 30 * time.Second
	if raw := os.Getenv("TROLLEY_SYNC_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("invalid TROLLEY_SYNC_INTERVAL: %v", err)
		}
		syncInterval = d
	}

	ldb, err := database.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open local database: %v", err)
	}
	defer ldb.Close()

	kv := storage.NewKV(ldb)
	q := queue.New(kv, logger)
	bus := db.NewBus()

	client := api.New(apiURL, refreshFunc(apiURL), logger)
	if token := os.Getenv("TROLLEY_TOKEN"); token != "" {
		client.SetToken(token)
	}

	factory := db.NewFactory(db.FactoryConfig{Backend: backend, AppVersion: appVersion}, client, kv, q, bus, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := factory.Get(ctx); err != nil {
		log.Fatalf("failed to initialize database backend: %v", err)
	}

	if backend == db.BackendRemote {
		s := syncer.New(client, q, bus, logger)
		s.Flush(ctx)
		go s.Run(ctx, syncInterval)
		go realtime.New(apiURL, bus, logger).Run(ctx)
	}

	fmt.Printf("Trolley sync agent running (backend: %s, %d pending mutations)\n", backend, q.Size())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down...")
	cancel()
	if err := factory.CloseActive(); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}

// refreshFunc exchanges the long-lived refresh token for a new access
// token. Returns nil when no refresh token is configured, in which case an
// expired session simply surfaces to the caller.
func refreshFunc(apiURL string) api.RefreshFunc {
	refreshToken := os.Getenv("TROLLEY_REFRESH_TOKEN")
	if refreshToken == "" {
		return nil
	}
	return func(ctx context.Context) (string, error) {
		body, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
		if err != nil {
			return "", err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/api/auth/refresh", bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("refresh failed with status %d", resp.StatusCode)
		}

		var out struct {
			AccessToken string `json:"accessToken"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", err
		}
		return out.AccessToken, nil
	}
}
