package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mnohosten/slotkv/pkg/admintoken"
	"github.com/mnohosten/slotkv/pkg/datastore"
	"github.com/mnohosten/slotkv/pkg/shard"
)

type fakeLister struct {
	shards []*shard.Shard
}

func (f *fakeLister) Shards() []*shard.Shard { return f.shards }

func TestHealthzNeedsNoToken(t *testing.T) {
	srv := New(&fakeLister{}, Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestStatsWithoutPassphraseIsUnavailable(t *testing.T) {
	srv := New(&fakeLister{}, Config{})
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with no passphrase configured, got %d", rec.Code)
	}
}

func TestStatsRequiresValidToken(t *testing.T) {
	srv := New(&fakeLister{}, Config{TokenPassphrase: "hunter2"})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no token, got %d", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req2.Header.Set("Authorization", "Bearer "+admintoken.Derive("hunter2"))
	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 with a valid token, got %d", rec2.Code)
	}
}

func TestMetricsReportsShardSamples(t *testing.T) {
	sh, err := shard.Open(t.TempDir(), 0, datastore.Config{MemtableMaxBytes: 4 << 20})
	if err != nil {
		t.Fatal(err)
	}
	defer sh.Close()

	srv := New(&fakeLister{shards: []*shard.Shard{sh}}, Config{TokenPassphrase: "hunter2"})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+admintoken.Derive("hunter2"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected non-empty metrics body")
	}
}
