// Package magick invokes the external raster-processing engine as an
// isolated subprocess per call. Arguments are always passed as a pre-built
// token list; nothing goes through a shell.
package magick

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rasterflow-labs/rasterflow-go/internal/domain"
	"github.com/rasterflow-labs/rasterflow-go/internal/platform/env"
)

// Engine is the narrow invocation surface the executor depends on. Convert
// runs one transformation (ordered inputs, argument tokens, one output path);
// Identify probes metadata with an engine format string.
type Engine interface {
	Convert(ctx context.Context, inputs []string, args []string, output string) error
	Identify(ctx context.Context, path string, format string) (string, error)
}

type Config struct {
	ConvertBin  string
	IdentifyBin string
	Timeout     time.Duration
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("RASTERFLOW_ENGINE_TIMEOUT", 60*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		ConvertBin:  env.String("RASTERFLOW_ENGINE_CONVERT_BIN", "convert"),
		IdentifyBin: env.String("RASTERFLOW_ENGINE_IDENTIFY_BIN", "identify"),
		Timeout:     timeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ConvertBin) == "" {
		return errors.New("convert binary is required")
	}
	if strings.TrimSpace(c.IdentifyBin) == "" {
		return errors.New("identify binary is required")
	}
	if c.Timeout <= 0 {
		return errors.New("engine timeout must be positive")
	}
	return nil
}

// CLI shells out to ImageMagick-compatible convert/identify binaries.
type CLI struct {
	cfg Config
}

func NewCLI(cfg Config) (*CLI, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := exec.LookPath(cfg.ConvertBin); err != nil {
		return nil, fmt.Errorf("convert binary not found: %w", err)
	}
	if _, err := exec.LookPath(cfg.IdentifyBin); err != nil {
		return nil, fmt.Errorf("identify binary not found: %w", err)
	}
	return &CLI{cfg: cfg}, nil
}

func (c *CLI) Convert(ctx context.Context, inputs []string, args []string, output string) error {
	if len(inputs) == 0 {
		return errors.New("at least one input is required")
	}
	if strings.TrimSpace(output) == "" {
		return errors.New("output path is required")
	}
	argv := buildConvertArgv(inputs, args, output)
	_, err := c.run(ctx, c.cfg.ConvertBin, argv)
	return err
}

func (c *CLI) Identify(ctx context.Context, path string, format string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}
	if strings.TrimSpace(format) == "" {
		return "", errors.New("format string is required")
	}
	out, err := c.run(ctx, c.cfg.IdentifyBin, []string{"-format", format, path})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *CLI) run(ctx context.Context, bin string, argv []string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, bin, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return "", &domain.EngineInvocationError{
			Args:     append([]string{bin}, argv...),
			Stderr:   stderr.String(),
			TimedOut: errors.Is(runCtx.Err(), context.DeadlineExceeded),
			Err:      err,
		}
	}
	return stdout.String(), nil
}

// buildConvertArgv orders the invocation as inputs, then operation tokens,
// then the single output path.
func buildConvertArgv(inputs []string, args []string, output string) []string {
	argv := make([]string, 0, len(inputs)+len(args)+1)
	argv = append(argv, inputs...)
	argv = append(argv, args...)
	argv = append(argv, output)
	return argv
}
