package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"dotfleet/internal/fleet"
	"dotfleet/internal/radio"
	"dotfleet/internal/session"
	"dotfleet/internal/store"
)

type DevicesCommandTestSuite struct {
	CommandTestSuite
}

func TestDevicesCommandTestSuite(t *testing.T) {
	suite.Run(t, new(DevicesCommandTestSuite))
}

// writeConfig drops a configuration file pointing everything at dir and
// returns its path.
func (s *DevicesCommandTestSuite) writeConfig(dir string) string {
	path := filepath.Join(dir, "dotfleet.yaml")
	content := "database_path: " + filepath.Join(dir, "dotfleet.db") + "\n" +
		"data_dir: " + filepath.Join(dir, "data") + "\n"
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o644), "config write MUST succeed")
	return path
}

func (s *DevicesCommandTestSuite) TestNoDevicesRegistered() {
	// GOAL: Verify the devices command reports an empty database

	cfgPath := s.writeConfig(s.T().TempDir())

	var cmdErr error
	out := s.CaptureStdout(func() {
		_, cmdErr = s.ExecuteCommand(rootCmd, "devices", "--config", cfgPath, "--log-level", "error")
	})
	s.Require().NoError(cmdErr, "devices MUST succeed on an empty database")
	s.Assert().Contains(out, "No devices registered")
}

func (s *DevicesCommandTestSuite) TestListsRegisteredDevices() {
	// GOAL: Verify registered dots show up with their tag, ID, and address
	//
	// TEST SCENARIO: seed the database directly, then run the command

	dir := s.T().TempDir()
	cfgPath := s.writeConfig(dir)

	db, err := store.Open(filepath.Join(dir, "dotfleet.db"))
	s.Require().NoError(err, "store MUST open")
	ctx := context.Background()
	s.Require().NoError(db.RegisterDevice(ctx, "d1", "AA:BB:CC:00:00:01", "LEFT_WRIST"))
	s.Require().NoError(db.RegisterDevice(ctx, "d2", "AA:BB:CC:00:00:02", "RIGHT_ANKLE"))
	s.Require().NoError(db.Close())

	var cmdErr error
	out := s.CaptureStdout(func() {
		_, cmdErr = s.ExecuteCommand(rootCmd, "devices", "--config", cfgPath, "--log-level", "error")
	})
	s.Require().NoError(cmdErr)

	s.Assert().Contains(out, "LEFT_WRIST")
	s.Assert().Contains(out, "RIGHT_ANKLE")
	s.Assert().Contains(out, "d1")
	s.Assert().Contains(out, "AA:BB:CC:00:00:02")
}

func (s *DevicesCommandTestSuite) TestRejectsInvalidLogLevel() {
	cfgPath := s.writeConfig(s.T().TempDir())

	_, err := s.ExecuteCommand(rootCmd, "devices", "--config", cfgPath, "--log-level", "noisy")
	s.Require().Error(err, "an unknown log level MUST be rejected")
	s.Assert().Contains(err.Error(), "invalid log level")
}

type FormatUserErrorTestSuite struct {
	suite.Suite
}

func TestFormatUserErrorTestSuite(t *testing.T) {
	suite.Run(t, new(FormatUserErrorTestSuite))
}

func (s *FormatUserErrorTestSuite) TestMissingSensors() {
	err := &fleet.MissingSensorsError{Names: []string{"LEFT_WRIST", "RIGHT_ANKLE"}}
	msg := FormatUserError(err)
	s.Assert().Contains(msg, "LEFT_WRIST, RIGHT_ANKLE")
	s.Assert().Contains(msg, "charging tray")
}

func (s *FormatUserErrorTestSuite) TestRadioControl() {
	err := &radio.ControlError{Enabled: true, Err: errors.New("rfkill: not found")}
	s.Assert().Contains(FormatUserError(err), "Bluetooth radio")
}

func (s *FormatUserErrorTestSuite) TestUsbOp() {
	err := &session.UsbError{Op: "erase flash", Err: errors.New("timeout")}
	s.Assert().Contains(FormatUserError(err), "erase flash")
}

func (s *FormatUserErrorTestSuite) TestPlainErrorPassesThrough() {
	s.Assert().Equal("boom", FormatUserError(errors.New("boom")))
}
