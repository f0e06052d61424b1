package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

func TestStartMetricsServerEndpoints(t *testing.T) {
	logger := log.WithField("test", "http")

	port := findFreePort(t)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthHandler := healthcheck.NewHandler(version.String())
	srv := startMetricsServer(ctx, addr, logger, healthHandler)
	if srv == nil {
		t.Fatal("startMetricsServer returned nil")
	}

	time.Sleep(100 * time.Millisecond)

	get := func(path string) (*http.Response, string) {
		t.Helper()
		resp, err := http.Get(fmt.Sprintf("http://%s%s", addr, path))
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp, string(body)
	}

	resp, body := get("/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for /metrics, got %d", resp.StatusCode)
	}
	if len(body) == 0 {
		t.Error("/metrics should return non-empty response")
	}

	resp, body = get("/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for /healthz, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, `"status"`) {
		t.Errorf("expected health json, got %q", body)
	}

	resp, body = get("/livez")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for /livez, got %d", resp.StatusCode)
	}
	if body != "ok" {
		t.Errorf("expected 'ok' from /livez, got %q", body)
	}

	resp, body = get("/readyz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for /readyz, got %d", resp.StatusCode)
	}
	if body != "ready" {
		t.Errorf("expected 'ready' from /readyz, got %q", body)
	}

	cancel()
	time.Sleep(100 * time.Millisecond)
}
