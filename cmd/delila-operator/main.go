// Command delila-operator sequences Start/Stop across every configured
// component by pipeline_order and reports aggregated system state
// (spec.md §4.6). It is the one process in the pipeline that dials
// every other component's command channel rather than serving one of
// its own.
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/usnistgov/delila/config"
	"github.com/usnistgov/delila/control/operator"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to config.toml")
	action := flag.String("action", "status", "start, stop, or status")
	runNumber := flag.Int("run", 0, "run number to pass to Start")
	timeout := flag.Duration("timeout", 30*time.Second, "per-component state-transition timeout")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("delila-operator: load config")
	}

	var components []operator.Component
	for _, sc := range cfg.Network.Sources {
		components = append(components, operator.Component{
			Label: fmt.Sprintf("Source-%d", sc.ID), Name: "Source", Addr: sc.Command, PipelineOrder: sc.PipelineOrder,
		})
	}
	components = append(components,
		operator.Component{Label: "Merger", Name: "Merger", Addr: cfg.Network.Merger.Command, PipelineOrder: cfg.Network.Merger.PipelineOrder},
		operator.Component{Label: "Recorder", Name: "Recorder", Addr: cfg.Network.Recorder.Command, PipelineOrder: cfg.Network.Recorder.PipelineOrder},
		operator.Component{Label: "Monitor", Name: "Monitor", Addr: cfg.Network.Monitor.Command, PipelineOrder: cfg.Network.Monitor.PipelineOrder},
	)

	op, err := operator.New(components)
	if err != nil {
		log.Fatal().Err(err).Msg("delila-operator: dial components")
	}
	defer op.Close()

	switch *action {
	case "start":
		if err := op.Start(*runNumber, *timeout); err != nil {
			log.Fatal().Err(err).Msg("delila-operator: start sequence failed")
		}
		log.Info().Int("run", *runNumber).Msg("delila-operator: run started")
	case "stop":
		if err := op.Stop(*timeout); err != nil {
			log.Fatal().Err(err).Msg("delila-operator: stop sequence failed")
		}
		log.Info().Msg("delila-operator: run stopped")
	case "status":
		weakest, weakestComponent, all, err := op.SystemState()
		if err != nil {
			log.Fatal().Err(err).Msg("delila-operator: status query failed")
		}
		log.Info().Str("system_state", weakest).Str("weakest_component", weakestComponent).Msg("delila-operator: status")
		for name, state := range all {
			log.Info().Str("component", name).Str("state", state).Msg("delila-operator: component status")
		}
	default:
		log.Fatal().Str("action", *action).Msg("delila-operator: unknown action, want start|stop|status")
	}
}
