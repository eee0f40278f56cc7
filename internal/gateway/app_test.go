package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dreamhive/memgate/internal/config"
	"github.com/dreamhive/memgate/internal/mcpserver"
	"github.com/dreamhive/memgate/internal/proxy"
)

func testRouter() http.Handler {
	p := proxy.New(proxy.Config{
		Proxy: config.ProxyConfig{
			DefaultBackend: "deepseek",
			Backends: map[string]config.BackendConfig{
				"deepseek": {BaseURL: "http://127.0.0.1:9/v1"},
			},
			Aliases: map[string]config.AliasConfig{
				"gpt-nano": {Backend: "deepseek", UpstreamModel: "deepseek-chat"},
			},
		},
		Version: "test",
	})
	mcp := mcpserver.New(mcpserver.Config{Version: "test"})
	return newRouter(routerDeps{proxy: p, mcp: mcp})
}

func TestRouterMountsProxySurface(t *testing.T) {
	srv := httptest.NewServer(testRouter())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if out["status"] != "ok" {
		t.Errorf("health = %v", out)
	}
}

func TestRouterMountsMCP(t *testing.T) {
	srv := httptest.NewServer(testRouter())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/mcp", "application/json", strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"initialize",
		  "params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"t","version":"0"}}}`))
	if err != nil {
		t.Fatalf("POST /mcp error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Mcp-Session-Id") == "" {
		t.Error("initialize did not mint a session id")
	}
}

func TestRouterUnknownPathIs404(t *testing.T) {
	srv := httptest.NewServer(testRouter())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestObserversAreNilWithoutMetrics(t *testing.T) {
	if storeObserver(nil) != nil || taskObserver(nil) != nil ||
		queueDepthObserver(nil) != nil || retrievalObserver(nil) != nil ||
		rerankFallbackObserver(nil) != nil || injectionObserver(nil) != nil ||
		toolObserver(nil) != nil {
		t.Error("nil metrics must yield nil observers")
	}
}
