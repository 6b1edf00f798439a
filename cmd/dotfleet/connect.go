package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"dotfleet/internal/fleet"
	"dotfleet/internal/groutine"
	"dotfleet/internal/session"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Bring the fleet up and watch the charging tray",
	Long: `Connect to every dot over USB and Bluetooth, then watch the charging
tray. Lifting a dot off the tray starts a recording on it; placing it back
stops the recording and drains the data over USB.

Runs until interrupted. Only one connect may drive the hardware at a time;
a lock file enforces this.`,
	RunE: runConnect,
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	lock := flock.New(cfg.LockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", cfg.LockPath, err)
	}
	if !locked {
		return fmt.Errorf("another dotfleet instance holds %s", cfg.LockPath)
	}
	defer lock.Unlock()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// On a terminal the bootstrap phases rewrite one line; otherwise each
	// transition is printed on its own.
	onStatus := printStatusChange
	var progress *ProgressPrinter
	if useColor {
		progress = NewProgressPrinter("Bootstrapping fleet", fleet.StatusConnectingUSB,
			fleet.StatusConnected, fleet.StatusDisconnected)
		onStatus = progress.Callback()
	}

	a, err := newApp(ctx, cfg, logger, onStatus)
	if err != nil {
		return err
	}
	defer a.close()

	if progress != nil {
		progress.Start()
	}
	err = a.monitor.Bootstrap(ctx, cfg.AllowList)
	if progress != nil {
		progress.Stop()
	}
	if err != nil {
		return err
	}

	fmt.Printf("Connected to %d dot(s)\n", len(a.monitor.Sessions()))

	a.monitor.StartMonitoring(ctx,
		func(s *session.DeviceSession) { a.onPlugged(ctx, s) },
		func(s *session.DeviceSession) { a.onUnplugged(ctx, s) },
	)

	<-ctx.Done()
	fmt.Println("Shutting down")
	return nil
}

// onUnplugged fires when a dot leaves the charging tray: a skater is taking
// it onto the ice, so open a recording reference and start recording.
func (a *app) onUnplugged(ctx context.Context, s *session.DeviceSession) {
	log := a.logger.WithField("device", s.ID())

	if _, err := a.store.CreatePendingRecording(ctx, s.ID()); err != nil {
		log.WithError(err).Error("Could not create recording reference")
		return
	}
	if !s.StartRecording() {
		log.Warn("Dot refused to start recording")
		return
	}
	announce(color.FgGreen, "%s (%s): recording started", s.TagName(), s.ID())
}

// onPlugged fires when a dot returns to the tray with data on it: stop the
// recording, then drain the flash on a goroutine of its own. The poll loop
// invokes this callback and must not stall on a multi-minute export; at most
// one export runs per session.
func (a *app) onPlugged(ctx context.Context, s *session.DeviceSession) {
	log := a.logger.WithField("device", s.ID())

	if !s.StopRecording() {
		log.Warn("Dot refused to stop recording")
	}

	if !a.beginExport(s.ID()) {
		log.Debug("Export already in flight, skipping")
		return
	}
	announce(color.FgYellow, "%s (%s): exporting recordings", s.TagName(), s.ID())

	groutine.Go(ctx, "export-"+s.ID(), func(ctx context.Context) {
		defer a.endExport(s.ID())

		if err := s.ExportData(ctx, a.cfg.IncludeResearchFields); err != nil {
			log.WithError(err).Error("Export failed")
			announce(color.FgRed, "%s (%s): export failed: %v", s.TagName(), s.ID(), FormatUserError(err))
			return
		}
		announce(color.FgGreen, "%s (%s): export complete", s.TagName(), s.ID())
	})
}

func announce(attr color.Attribute, format string, args ...interface{}) {
	if !useColor {
		fmt.Printf(format+"\n", args...)
		return
	}
	color.New(attr).Printf(format+"\n", args...)
}
