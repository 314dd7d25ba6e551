package dashlink

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dashlink/dashlink/internal/adapters/membus"
	"github.com/dashlink/dashlink/internal/ports"
)

func TestConfFromConfigAndBuild(t *testing.T) {
	cfg := memConfig()

	link, err := ConfFromConfig(cfg)
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}
	if link.Config() != cfg {
		t.Fatalf("expected Config to be returned verbatim")
	}

	bus := membus.New()
	rt, err := link.
		Options(WithObservability(ports.NopObservability{})).
		Build(WithBus(bus))
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if rt.bus != ports.Bus(bus) {
		t.Fatalf("expected custom bus to be wired")
	}
}

func TestConfLoadsYAML(t *testing.T) {
	dir := t.TempDir()
	archiveDir := filepath.Join(dir, "archive")
	path := filepath.Join(dir, "config.yaml")
	data := `
bus:
  backend: memory
recorder:
  dir: ` + archiveDir + `
metrics:
  addr: ":0"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	link, err := Conf(path, WithLinkOptions(WithObservability(ports.NopObservability{})))
	if err != nil {
		t.Fatalf("Conf returned error: %v", err)
	}

	rt, err := link.Build()
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if rt.archive == nil {
		t.Fatalf("expected the archive writer to be wired from recorder.dir")
	}
	if len(rt.recorders) != 1 {
		t.Fatalf("expected exactly the archive recorder, got %d", len(rt.recorders))
	}

	if err := rt.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestLinkRunStopsOnCancelledContext(t *testing.T) {
	link, err := ConfFromConfig(memConfig())
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // stop immediately

	if err := link.Run(ctx, WithObservability(ports.NopObservability{})); err != nil {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
}
