package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/bostik/bucky3/internal/client"
	"github.com/bostik/bucky3/internal/collector"
	"github.com/bostik/bucky3/internal/config"
	"github.com/bostik/bucky3/internal/logging"
	"github.com/bostik/bucky3/internal/supervisor"
	"github.com/bostik/bucky3/internal/transport"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logging.Setup(cfg.LogLevel)

	sup := supervisor.New(cfg)
	if cfg.Statsd.Enabled {
		sup.AddCollector(collector.NewStatsdCollector(cfg.Statsd))
	}
	if cfg.System.Enabled {
		sup.AddCollector(collector.NewSystemCollector(cfg.System))
	}
	if cfg.Carbon.Enabled {
		conn := transport.NewConnector(cfg.Carbon.RemoteHost, cfg.Carbon.ConnectTimeout, cfg.Carbon.SendTimeout)
		sup.AddClient("carbon", client.NewCarbonEncoder(cfg.Carbon, conn), cfg.Carbon.ClientConfig)
	}
	if cfg.Elastic.Enabled {
		conn := transport.NewConnector(cfg.Elastic.RemoteHost, cfg.Elastic.ConnectTimeout, cfg.Elastic.SendTimeout)
		sup.AddClient("elastic", client.NewElasticEncoder(cfg.Elastic, conn), cfg.Elastic.ClientConfig)
	}

	// A termination signal becomes a sentinel on the intake queue so the
	// fan-out loop winds down in order instead of being interrupted.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		sig := <-sigs
		logrus.Infof("received %s", sig)
		sup.RequestShutdown()
	}()

	return sup.Run(context.Background())
}
