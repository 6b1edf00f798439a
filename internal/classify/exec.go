package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// ExecClassifier runs the classifier as an external command, feeding the
// sample table as CSV on stdin and reading a JSON array of jumps from stdout.
// The ML pipeline stays its own process; this is the whole contract.
type ExecClassifier struct {
	command []string
	logger  *logrus.Logger
}

var _ Classifier = (*ExecClassifier)(nil)

// NewExecClassifier builds a classifier around the given argv. The command
// must not be empty.
func NewExecClassifier(command []string, logger *logrus.Logger) (*ExecClassifier, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("classifier command is empty")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ExecClassifier{command: command, logger: logger}, nil
}

// Classify invokes the external command once per sample table.
func (c *ExecClassifier) Classify(ctx context.Context, samples *SampleTable) ([]Jump, error) {
	var stdin bytes.Buffer
	if err := samples.WriteCSV(&stdin); err != nil {
		return nil, fmt.Errorf("encode samples: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.command[0], c.command[1:]...)
	cmd.Stdin = &stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.WithFields(logrus.Fields{
		"command": strings.Join(c.command, " "),
		"rows":    len(samples.Rows),
	}).Info("Running jump classifier")

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("classifier: %v: %s", err, msg)
		}
		return nil, fmt.Errorf("classifier: %w", err)
	}

	var jumps []Jump
	if err := json.Unmarshal(stdout.Bytes(), &jumps); err != nil {
		return nil, fmt.Errorf("decode classifier output: %w", err)
	}

	c.logger.WithField("jumps", len(jumps)).Info("Classifier finished")
	return jumps, nil
}
