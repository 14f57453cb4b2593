// Command delila-source runs a single Source component: it owns one
// digitizer (real or emulated), decodes its raw buffers, and publishes
// EventBatches for the Merger to subscribe to. It takes two flags: the
// config file path and the source_id to run; everything else comes from
// the config file.
package main

import (
	"flag"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/usnistgov/delila/config"
	"github.com/usnistgov/delila/control"
	"github.com/usnistgov/delila/decode"
	"github.com/usnistgov/delila/source"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to config.toml")
	sourceID := flag.Uint("id", 0, "source_id to run, matching a [[network.sources]] entry")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("delila-source: load config")
	}

	var sc *config.SourceConfig
	for i := range cfg.Network.Sources {
		if cfg.Network.Sources[i].ID == uint32(*sourceID) {
			sc = &cfg.Network.Sources[i]
			break
		}
	}
	if sc == nil {
		log.Fatal().Uint("id", *sourceID).Msg("delila-source: no matching [[network.sources]] entry")
	}

	decoderKind := sc.Decoder
	if decoderKind == "" {
		decoderKind = "psd2"
	}
	dec, err := decode.NewRegistry().New(decoderKind, uint8(sc.ID))
	if err != nil {
		log.Fatal().Err(err).Msg("delila-source: build decoder")
	}

	var digitizer source.Digitizer
	if sc.DigitizerURL != "" {
		log.Fatal().Msg("delila-source: hardware digitizer support requires a vendor VendorHandle binding, not available in this build")
	} else {
		log.Info().Uint32("source_id", sc.ID).Msg("delila-source: no digitizer_url, running emulator")
		digitizer = source.NewEmulator(source.ModeDirectEvents, int64(sc.ID)+1)
	}

	src := source.New(sc.ID, digitizer, dec, sc.Bind)
	svc := control.NewService("Source", src.Watcher(), src)

	log.Info().Str("command", sc.Command).Msg("delila-source: serving command channel")
	if err := svc.Serve(sc.Command); err != nil {
		log.Error().Err(err).Msg("delila-source: command server exited")
		os.Exit(1)
	}
}
