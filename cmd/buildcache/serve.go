package main

import (
	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"buildcache/internal/api"
	"buildcache/internal/lifecycle"
	"buildcache/internal/store"
)

type serveCommand struct {
	g          *globals
	listenAddr string
}

func addServeCommand(app *kingpin.Application, g *globals) {
	cmd := &serveCommand{g: g}
	c := app.Command("serve", "Serve health, metrics and cache records over HTTP.")
	c.Flag("listen", "Listen address.").StringVar(&cmd.listenAddr)
	c.Action(func(_ *kingpin.ParseContext) error { return cmd.run() })
}

func (cmd *serveCommand) run() error {
	cfg, logger, err := cmd.g.load()
	if err != nil {
		return err
	}
	if cmd.listenAddr != "" {
		cfg.Server.ListenAddr = cmd.listenAddr
	}

	st, err := store.Open(cfg.Cache, lifecycle.Default(), logger)
	if err != nil {
		return withCode(exitInternalError, err)
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := api.NewServer(cfg.Server.ListenAddr, st, reg, logger)
	return withCode(exitInternalError, srv.Run(cmd.g.ctx))
}
