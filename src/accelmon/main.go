package main

import (
	"context"
	"time"

	"github.com/kardianos/service"
	"github.com/sirupsen/logrus"

	"github.com/dividat/accelmon/src/accelmon/config"
	"github.com/dividat/accelmon/src/accelmon/server"
)

// set at build time
var version = "dev"

type program struct {
	log    *logrus.Entry
	config config.Config

	cancel context.CancelFunc
	server *server.Server
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())

	srv, err := server.Start(ctx, p.log, p.config)
	if err != nil {
		cancel()
		return err
	}
	p.cancel = cancel
	p.server = srv
	return nil
}

func (p *program) Stop(s service.Service) error {
	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	err := p.server.Shutdown(ctx)
	p.cancel()
	p.log.Info("Stopped.")
	return err
}

func main() {
	logger := logrus.New()

	cfg, err := config.Load(config.Path())
	if err != nil {
		logger.WithError(err).Fatal("Could not load configuration.")
	}
	if err := cfg.ApplyLogging(logger); err != nil {
		logger.WithError(err).Fatal("Could not configure logging.")
	}

	log := logger.WithField("version", version)

	svc, err := service.New(&program{log: log, config: cfg}, &service.Config{
		Name:        "accelmon",
		DisplayName: "Accelerometer Monitor",
		Description: "Streams readings of a serial accelerometer over WebSocket.",
	})
	if err != nil {
		log.WithError(err).Fatal("Could not create service.")
	}

	if err := svc.Run(); err != nil {
		log.WithError(err).Fatal("Service failed.")
	}
}
