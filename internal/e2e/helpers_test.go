package e2e

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"imaged/internal/engine/sim"
	"imaged/internal/httpapi"
	"imaged/internal/manager"
	"imaged/internal/registry"
	"imaged/internal/storage"
	"imaged/internal/weights"
)

// stack is a fully wired service on the simulated device.
type stack struct {
	srv     *httptest.Server
	mgr     *manager.Manager
	backend *sim.Backend
	events  *manager.MemoryPublisher
	repo    *storage.LocalRepository
	loras   *weights.Resolver
	dataDir string
}

// createCheckpoints writes placeholder weight files and returns their directory.
func createCheckpoints(t *testing.T, dir string, names ...string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("weights"), 0o644); err != nil {
			t.Fatalf("write checkpoint %s: %v", n, err)
		}
	}
}

func newStack(t *testing.T, simCfg sim.Config, cfg manager.ManagerConfig, checkpoints ...string) *stack {
	t.Helper()
	s := &stack{dataDir: t.TempDir()}
	ckptDir := filepath.Join(s.dataDir, "checkpoints")
	createCheckpoints(t, ckptDir, checkpoints...)
	reg, err := registry.LoadDir(ckptDir)
	if err != nil {
		t.Fatalf("scan checkpoints: %v", err)
	}

	// The handler is installed once the server URL is known.
	var h http.Handler
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { h.ServeHTTP(w, r) }))
	t.Cleanup(s.srv.Close)

	s.repo, err = storage.OpenLocal(filepath.Join(s.dataDir, "images"), s.srv.URL)
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { _ = s.repo.Close() })

	s.backend = sim.New(simCfg)
	s.loras = weights.New(filepath.Join(s.dataDir, "loras"), weights.Options{})
	cfg.Backend = s.backend
	cfg.Checkpoints = weights.New(ckptDir, weights.Options{})
	cfg.Overlays = s.loras
	cfg.Repository = s.repo
	cfg.Registry = reg
	if cfg.HostRAMBuffer == 0 {
		cfg.HostRAMBuffer = -1
	}
	s.mgr = manager.NewWithConfig(cfg)
	t.Cleanup(func() { _ = s.mgr.Close() })
	s.events = manager.NewMemoryPublisher()
	s.mgr.SetEventPublisher(s.events)

	httpapi.SetFileStore(s.repo)
	t.Cleanup(func() { httpapi.SetFileStore(nil) })
	h = httpapi.NewMux(s.mgr)
	return s
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}
