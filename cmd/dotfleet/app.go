package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"dotfleet/internal/classify"
	"dotfleet/internal/config"
	"dotfleet/internal/discovery"
	"dotfleet/internal/dotble"
	"dotfleet/internal/dotusb"
	"dotfleet/internal/fleet"
	"dotfleet/internal/radio"
	"dotfleet/internal/store"
)

// app bundles the wired collaborators behind one command invocation.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	store   *store.SQLite
	monitor *fleet.Monitor

	usbProvider *dotusb.Provider
	bleProvider *dotble.Provider

	exportMu  sync.Mutex
	exporting map[string]struct{}
}

// beginExport marks a session's export as in flight. False when one is
// already running for that session.
func (a *app) beginExport(id string) bool {
	a.exportMu.Lock()
	defer a.exportMu.Unlock()
	if a.exporting == nil {
		a.exporting = make(map[string]struct{})
	}
	if _, busy := a.exporting[id]; busy {
		return false
	}
	a.exporting[id] = struct{}{}
	return true
}

func (a *app) endExport(id string) {
	a.exportMu.Lock()
	defer a.exportMu.Unlock()
	delete(a.exporting, id)
}

// newApp wires the hardware backends, the database, and the fleet monitor.
// onStatus receives bootstrap state transitions; nil disables the reporting.
// Call close when done.
func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger, onStatus func(fleet.Status)) (*app, error) {
	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	var classifier classify.Classifier
	if len(cfg.ClassifierCommand) > 0 {
		classifier, err = classify.NewExecClassifier(cfg.ClassifierCommand, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	usbProvider := dotusb.NewProvider(logger)
	if err := usbProvider.Start(ctx); err != nil {
		logger.WithError(err).Warn("USB hot-plug tracking unavailable")
	}
	bleProvider := dotble.NewProvider(logger)

	scannerOpts := discovery.DefaultOptions()
	scannerOpts.ScanDuration = cfg.ScanTimeout()
	scanner := discovery.NewScanner(usbProvider, bleProvider, scannerOpts, logger)

	monitor := fleet.NewMonitor(fleet.Config{
		Scanner:        scanner,
		Radio:          radio.NewRfkill(logger),
		Store:          db,
		Classifier:     classifier,
		DataDir:        cfg.DataDir,
		PollInterval:   cfg.PollInterval(),
		OnStatusChange: onStatus,
	}, logger)

	return &app{
		cfg:         cfg,
		logger:      logger,
		store:       db,
		monitor:     monitor,
		usbProvider: usbProvider,
		bleProvider: bleProvider,
	}, nil
}

func (a *app) close() {
	a.usbProvider.Stop()
	if err := a.bleProvider.Close(); err != nil {
		a.logger.WithError(err).Debug("Bluetooth shutdown failed")
	}
	if err := a.store.Close(); err != nil {
		a.logger.WithError(err).Warn("Database close failed")
	}
}

var useColor = isatty.IsTerminal(os.Stdout.Fd())

func printStatusChange(s fleet.Status) {
	if !useColor {
		fmt.Printf("[%s]\n", s)
		return
	}
	color.New(color.FgCyan).Printf("[%s]\n", s)
}
