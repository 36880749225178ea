package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zhouzirui/z-tavern/chatflow/internal/workflow"
)

type seenRequest struct {
	path   string
	apiKey string
}

func newTestClient(t *testing.T, status int, body string) (*Client, *seenRequest) {
	t.Helper()
	seen := &seenRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.path = r.URL.Path
		seen.apiKey = r.Header.Get("x-cg-demo-api-key")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, WithAPIKey("demo-key")), seen
}

func TestFetchMetadata(t *testing.T) {
	client, seen := newTestClient(t, http.StatusOK, `{
		"name": "Foo",
		"symbol": "foo",
		"market_data": {"current_price": {"usd": 1.23}}
	}`)

	meta, err := client.FetchMetadata(context.Background(), "addr123")
	if err != nil {
		t.Fatalf("FetchMetadata err: %v", err)
	}
	if meta.Name != "Foo" || meta.Symbol != "FOO" || meta.Price != 1.23 {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if !strings.HasSuffix(seen.path, "/coins/solana/contract/addr123") {
		t.Fatalf("unexpected path %s", seen.path)
	}
	if seen.apiKey != "demo-key" {
		t.Fatal("expected api key header")
	}
}

func TestFetchMetadataDefaults(t *testing.T) {
	client, _ := newTestClient(t, http.StatusOK, `{"id": "x"}`)

	meta, err := client.FetchMetadata(context.Background(), "addr123")
	if err != nil {
		t.Fatalf("FetchMetadata err: %v", err)
	}
	if meta.Name != "Unknown Token" || meta.Symbol != "UNKNOWN" || meta.Price != 0 {
		t.Fatalf("unexpected defaults: %+v", meta)
	}
}

func TestFetchMetadataNotFound(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"status 404": {http.StatusNotFound, `{"error": "coin not found"}`},
		"error body": {http.StatusOK, `{"error": "Could not find coin with the given id"}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			client, _ := newTestClient(t, tc.status, tc.body)
			if _, err := client.FetchMetadata(context.Background(), "addr123"); !errors.Is(err, workflow.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestFetchMetadataServerError(t *testing.T) {
	client, _ := newTestClient(t, http.StatusTooManyRequests, `{"status": {"error_code": 429}}`)

	_, err := client.FetchMetadata(context.Background(), "addr123")
	if err == nil || errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("expected transport error, got %v", err)
	}
}
