package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func quietLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serve(t *testing.T, mux *http.ServeMux, path string) (int, string) {
	t.Helper()
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr.Code, rr.Body.String()
}

func TestRegisterHTTP_HealthAndReadiness(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	registerHTTP(mux, quietLogger(), Config{}, nil, nil, nil, nil, nil)

	if code, body := serve(t, mux, "/healthz"); code != http.StatusOK || body != "ok\n" {
		t.Fatalf("healthz: %d %q", code, body)
	}
	if code, _ := serve(t, mux, "/readyz"); code != http.StatusOK {
		t.Fatalf("readyz without dependencies should be ready, got %d", code)
	}
	if code, _ := serve(t, mux, "/metrics"); code != http.StatusNotFound {
		t.Fatalf("metrics must not be mounted when disabled, got %d", code)
	}
}

func TestRegisterHTTP_ReadinessRequiresDB(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	registerHTTP(mux, quietLogger(), Config{ReadinessRequireDB: true}, nil, nil, nil, nil, nil)

	if code, _ := serve(t, mux, "/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
}

func TestRegisterHTTP_ReadinessTracksRedis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	mux := http.NewServeMux()
	registerHTTP(mux, quietLogger(), Config{}, nil, rdb, nil, nil, nil)

	if code, _ := serve(t, mux, "/readyz"); code != http.StatusOK {
		t.Fatalf("expected ready with redis up, got %d", code)
	}

	mr.Close()
	if code, _ := serve(t, mux, "/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with redis down, got %d", code)
	}
}

func TestRegisterHTTP_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "localchat_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	mux := http.NewServeMux()
	registerHTTP(mux, quietLogger(), Config{MetricsEnabled: true}, nil, nil, reg, nil, nil)

	code, body := serve(t, mux, "/metrics")
	if code != http.StatusOK || !strings.Contains(body, "localchat_test_total 1") {
		t.Fatalf("unexpected metrics response: %d %q", code, body)
	}
}

func TestPingRedis_Timeout(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	if err := pingRedis(context.Background(), rdb, time.Second); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
