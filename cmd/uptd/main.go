// Command uptd runs a simulated UPT peripheral and serves its HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tinysil/upt/api"
	"github.com/tinysil/upt/config"
	"github.com/tinysil/upt/device"
	"github.com/tinysil/upt/entropy"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the YAML configuration")
	logLevel := flag.String("log", "info", "log level (trace, debug, info, warning, error)")
	flag.Parse()

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		log.Errorf("invalid log level %q: %s", *logLevel, err)
		return 1
	}
	log.SetLevel(level)

	cfg := config.Default()
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.WithError(err).Error("could not load configuration")
			return 1
		}
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Error("invalid configuration")
		return 1
	}

	dev, err := buildDevice(cfg)
	if err != nil {
		log.WithError(err).Error("could not build device")
		return 1
	}
	defer func() {
		if err := dev.Close(); err != nil {
			log.WithError(err).Warning("shutdown was not clean")
		}
	}()

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.New(dev),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dev.Run(ctx)
	})
	g.Go(func() error {
		log.WithField("listen", cfg.Listen).Info("serving api")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("daemon failed")
		return 1
	}
	return 0
}

func buildDevice(cfg *config.Config) (*device.Device, error) {
	interval, err := cfg.Interval()
	if err != nil {
		return nil, err
	}
	mode, err := cfg.ModeValue()
	if err != nil {
		return nil, err
	}
	seed, err := cfg.SeedValue()
	if err != nil {
		return nil, err
	}
	trigger, sel1, sel2, mask, err := cfg.Vectors()
	if err != nil {
		return nil, err
	}

	opts := device.Options{
		TickInterval: interval,
		Mode:         mode,
		Trigger:      trigger,
		Sel1:         sel1,
		Sel2:         sel2,
		Mask:         mask,
		Seed:         seed,
		CalibCycles:  cfg.CalibrationCycles,
		JournalPath:  cfg.JournalPath,
		Harvest:      cfg.Harvest,
	}
	if cfg.Cell == "noise" {
		cipher := entropy.Cipher(cfg.Cipher)
		opts.NewCell = func(int) (entropy.Cell, error) {
			return entropy.NewNoiseCell(cipher)
		}
	}

	return device.New(opts)
}
