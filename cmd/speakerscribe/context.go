package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"speakerscribe/internal/config"
	"speakerscribe/internal/logging"
	"speakerscribe/internal/pipeline"
	"speakerscribe/internal/preflight"
)

type commandContext struct {
	configFlag *string
	logLevel   *string

	configOnce sync.Once
	config     *config.Config
	configPath   string
	configExists bool
	configErr    error

	// pipelineOpts are appended when building a pipeline.Context.
	pipelineOpts []pipeline.Option
	// checkers replaces the doctor network and device probes.
	checkers preflight.Checkers
}

func newCommandContext(configFlag, logLevel *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		logLevel:   logLevel,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevel != nil && strings.TrimSpace(*c.logLevel) != "" {
			cfg.Logging.Level = strings.TrimSpace(*c.logLevel)
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

// newLogger builds the command logger. Records go to stderr so stdout stays
// free for --events and --json output.
func (c *commandContext) newLogger(fileName string) (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.NewFromConfig(cfg, fileName)
}

// workerFlags are the global flags a `transcribe` worker needs to load the
// same configuration as this process.
func (c *commandContext) workerFlags() []string {
	var flags []string
	if c.configExists && c.configPath != "" {
		flags = append(flags, "--config", c.configPath)
	}
	if c.config != nil && strings.TrimSpace(c.config.Logging.Level) != "" {
		flags = append(flags, "--log-level", c.config.Logging.Level)
	}
	return flags
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func writeLines(w io.Writer, lines []string) {
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
