package main

import (
	"bytes"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/suite"
)

// CommandTestSuite carries the shared utilities for command tests. All
// cmd/dotfleet test suites should embed this.
type CommandTestSuite struct {
	suite.Suite
}

// CaptureStdout executes fn while capturing stdout, returns captured output.
// Stdout is restored even if fn panics.
func (s *CommandTestSuite) CaptureStdout(fn func()) string {
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	s.Require().NoError(err, "pipe creation MUST succeed")
	os.Stdout = w
	defer func() { os.Stdout = oldStdout }()

	fn()

	w.Close()
	out, _ := io.ReadAll(r)
	return string(out)
}

// ExecuteCommand runs a cobra command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
