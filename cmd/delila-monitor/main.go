// Command delila-monitor runs the Monitor: it subscribes to the
// merger's publish socket, accumulates per-channel histograms and the
// latest waveform per channel, and serves them as JSON for an external
// UI to poll (rendering itself is out of scope).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/usnistgov/delila/config"
	"github.com/usnistgov/delila/control"
	"github.com/usnistgov/delila/monitor"
)

const (
	defaultBinWidth = 64
	defaultNumBins  = 1024 // 64*1024 = 65536, covers the full u16 energy range
)

func main() {
	configPath := flag.String("config", "config.toml", "path to config.toml")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("delila-monitor: load config")
	}
	mc := cfg.Network.Monitor

	httpAddr := fmt.Sprintf(":%d", mc.HTTPPort)
	mon := monitor.New(mc.Subscribe, httpAddr, defaultBinWidth, defaultNumBins)
	svc := control.NewService("Monitor", mon.Watcher(), mon)

	log.Info().Str("command", mc.Command).Msg("delila-monitor: serving command channel")
	if err := svc.Serve(mc.Command); err != nil {
		log.Error().Err(err).Msg("delila-monitor: command server exited")
		os.Exit(1)
	}
}
