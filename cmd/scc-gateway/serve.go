package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Micheleww/scc-gateway/internal/board"
	"github.com/Micheleww/scc-gateway/internal/config"
	"github.com/Micheleww/scc-gateway/internal/contextpack"
	"github.com/Micheleww/scc-gateway/internal/eventlog"
	"github.com/Micheleww/scc-gateway/internal/gateway"
	"github.com/Micheleww/scc-gateway/internal/jobstore"
	"github.com/Micheleww/scc-gateway/internal/lifecycle"
	"github.com/Micheleww/scc-gateway/internal/scheduler"
	"github.com/Micheleww/scc-gateway/internal/statestore"
	"github.com/Micheleww/scc-gateway/internal/worker"
)

func serve(args []string) {
	var addr string
	var configPath string
	var dataDirFlag string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--addr":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--addr requires a value")
				os.Exit(1)
			}
			addr = args[i]
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a value")
				os.Exit(1)
			}
			configPath = args[i]
		case "--data-dir":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--data-dir requires a value")
				os.Exit(1)
			}
			dataDirFlag = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFile(configPath, cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg = config.LoadEnv(cfg)
	if dataDirFlag != "" {
		cfg.DataDir = dataDirFlag
	}
	if addr == "" {
		addr = fmt.Sprintf("127.0.0.1:%d", cfg.GatewayPort)
	}

	stateDir := filepath.Join(cfg.DataDir, "state")
	artifactsDir := filepath.Join(cfg.DataDir, "artifacts")
	mapDir := filepath.Join(cfg.DataDir, "map")

	b := board.New(statestore.New(filepath.Join(stateDir, "board.json"), nil))
	jobs := jobstore.New(statestore.New(filepath.Join(stateDir, "jobs_state.json"), nil))
	sched := scheduler.New(jobs, func(executor string) int { return cfg.ExecutorConcurrencyCap(executor) })
	workers := worker.New(cfg.SeenWindow, cfg.StallSeconds)
	events := eventlog.New(filepath.Join(artifactsDir, "events.jsonl"), nil)
	packs := contextpack.New(filepath.Join(artifactsDir, "packs"))
	life := lifecycle.New(b, jobs, sched, workers, events)

	srv := gateway.New(gateway.Deps{
		Addr:                    addr,
		Config:                  cfg,
		Board:                   b,
		Jobs:                    jobs,
		Sched:                   sched,
		Workers:                 workers,
		Events:                  events,
		Packs:                   packs,
		Life:                    life,
		MissionDefaultExecutors: configuredExecutors(cfg),
		MapVersionPath:          filepath.Join(mapDir, "version.json"),
		ArtifactsDir:            artifactsDir,
	})

	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// configuredExecutors derives the mission-wide default executor list from
// whichever executors the operator has given a concurrency cap. There is
// no separate mission-default-executors setting, so the concurrency map
// doubles as the set of executors this gateway instance knows about.
func configuredExecutors(cfg config.Config) []string {
	execs := make([]string, 0, len(cfg.ExecConcurrency))
	for exec := range cfg.ExecConcurrency {
		execs = append(execs, exec)
	}
	return execs
}
