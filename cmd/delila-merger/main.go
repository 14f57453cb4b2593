// Command delila-merger runs the zero-copy Merger: it subscribes to
// every configured source and republishes merged frames for the
// Recorder and Monitor to subscribe to in turn.
package main

import (
	"flag"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/usnistgov/delila/config"
	"github.com/usnistgov/delila/control"
	"github.com/usnistgov/delila/merger"
)

const defaultDropThreshold = 4096

func main() {
	configPath := flag.String("config", "config.toml", "path to config.toml")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("delila-merger: load config")
	}

	// [network.merger].subscribe lists source PUB endpoints in the same
	// order as [[network.sources]]; zip them back to source_id here.
	sourceEndpoints := make(map[uint32]string, len(cfg.Network.Sources))
	for i, sc := range cfg.Network.Sources {
		if i < len(cfg.Network.Merger.Subscribe) {
			sourceEndpoints[sc.ID] = cfg.Network.Merger.Subscribe[i]
		} else {
			sourceEndpoints[sc.ID] = sc.Bind
		}
	}

	dropThreshold := cfg.Network.Merger.ForwardQueueWarn
	if dropThreshold == 0 {
		dropThreshold = defaultDropThreshold
	}

	m := merger.New(sourceEndpoints, cfg.Network.Merger.Publish, dropThreshold)
	svc := control.NewService("Merger", m.Watcher(), m)

	log.Info().Str("command", cfg.Network.Merger.Command).Msg("delila-merger: serving command channel")
	if err := svc.Serve(cfg.Network.Merger.Command); err != nil {
		log.Error().Err(err).Msg("delila-merger: command server exited")
		os.Exit(1)
	}
}
