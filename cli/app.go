package cli

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/georgepadayatti/mdsign/config"
	"github.com/georgepadayatti/mdsign/logging"
	"github.com/georgepadayatti/mdsign/metrics"
	"github.com/georgepadayatti/mdsign/sign"
)

// app holds the components a command needs.
type app struct {
	cfg     *config.AppConfig
	logger  *zap.Logger
	metrics *metrics.Recorder
	service *sign.Service
	closer  io.Closer
}

type appOptions struct {
	loadKeystore bool
	metrics      bool
	override     func(*config.AppConfig)
}

// newApp loads the configuration and wires the signing service.
func newApp(flags *GlobalFlags, opts appOptions) (*app, error) {
	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		return nil, err
	}
	if opts.override != nil {
		opts.override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	if opts.metrics {
		a.metrics = metrics.New()
	}

	signing := cfg.Signing
	if !opts.loadKeystore {
		signing.Keystore = nil
	}
	materials, closer, err := config.LoadSigningMaterials(signing,
		config.WithLogger(logger), config.WithPrompt(config.TerminalPrompt))
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	a.closer = closer

	validator := config.NewValidator(cfg.Validation, config.WithLogger(logger))
	a.service, err = sign.NewService(materials, validator,
		sign.WithValidityWindow(cfg.Signing.ValidityWindow()),
		sign.WithPrecheck(cfg.Signing.PrecheckCertificate),
		sign.WithLogger(logger),
		sign.WithMetrics(a.metrics))
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases token sessions and flushes the logger.
func (a *app) Close() {
	if a.closer != nil {
		if err := a.closer.Close(); err != nil {
			a.logger.Warn("failed to release keystore", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func readInput(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(data), nil
}
