package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/devicebridge/bridged/internal/config"
	"github.com/devicebridge/bridged/internal/daemon"
	"github.com/devicebridge/bridged/internal/paths"
	"go.uber.org/fx"
)

func main() {
	dataDirFlag := flag.String("data-dir", "", "data directory (default ~/.bridged)")
	listenFlag := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	dataDir := paths.BaseDir(*dataDirFlag)
	cfg, err := config.Load(paths.ConfigPath(dataDir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.DataDir != "" && *dataDirFlag == "" {
		dataDir = cfg.DataDir
	}
	if *listenFlag != "" {
		cfg.ListenAddr = *listenFlag
	}

	app := fx.New(
		daemon.Module(daemon.Params{Config: cfg, DataDir: dataDir}),
	)

	app.Run()
}
