// Command bloomd runs the Bloom-filter service's manager: it loads
// configuration, rebuilds the registry from on-disk state, starts the
// background flusher, and waits for a shutdown signal before tearing
// everything down. No network front-end is implemented here; this is
// the seam a protocol listener would be wired into.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/bloomd/bloomd/internal/bloomlog"
	"github.com/bloomd/bloomd/internal/config"
	"github.com/bloomd/bloomd/internal/flusher"
	"github.com/bloomd/bloomd/internal/manager"
	"github.com/bloomd/bloomd/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.FromFile(*configPath)
		if err != nil {
			bloomlog.ERR("load config %s: %v", *configPath, err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		bloomlog.ERR("create data dir %s: %v", cfg.DataDir, err)
		os.Exit(1)
	}

	mgr := manager.New(cfg, observability.Default())

	ctx, cancel := context.WithCancel(context.Background())
	go flusher.New(mgr, cfg.FlushInterval).Run(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	cancel()
	mgr.Teardown()
}
