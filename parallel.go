// Package parallel runs a discovered tree of Go tests across a pool of go
// test processes and folds their outcomes into one verdict.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/ethereum-optimism/infra/op-parallel/exitcodes"
	"github.com/ethereum-optimism/infra/op-parallel/service"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// App implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &App{}

// App runs the test suite once and then asks the application to shut down.
type App struct {
	config  *Config
	version string
	runner  *Runner
	service *service.Service
	result  *RunResult

	running atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

// New creates the App; it loads the run config but does not discover tests yet
func New(config *Config, version string, shutdownCallback func(error)) (*App, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if shutdownCallback == nil {
		return nil, errors.New("shutdown callback is required")
	}

	config.Log.Debug("Creating op-parallel with config",
		"startDir", config.StartDir,
		"topLevelDir", config.TopLevelDir,
		"pattern", config.Pattern,
		"granularity", config.Granularity,
		"jobs", config.Jobs,
		"failFast", config.FailFast,
		"coverage", config.Coverage.Enabled)

	r, err := NewRunner(config)
	if err != nil {
		return nil, err
	}
	return &App{
		config:           config,
		version:          version,
		runner:           r,
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the tests to completion. Test failures and coverage below the
// minimum are returned as typed errors carrying the exit status.
func (a *App) Start(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			a.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	a.running.Store(true)
	a.config.Log.Info("Starting op-parallel", "version", a.version)

	if a.config.MetricsConfig.Enabled && !a.config.List {
		addr := net.JoinHostPort(a.config.MetricsConfig.ListenAddr, strconv.Itoa(a.config.MetricsConfig.ListenPort))
		svc := service.New(a.config.Log)
		if err := svc.Start(addr); err != nil {
			return NewRuntimeError(fmt.Errorf("failed to start metrics server: %w", err))
		}
		a.service = svc
		a.runner.onStart = func() { svc.Healthz.SetReady(true) }
	}

	result, err := a.runner.Run(ctx)
	a.result = result
	if err != nil {
		a.shutdownService()
		return err
	}

	go a.shutdownCallback(nil)
	return nil
}

// Stop implements the cliapp.Lifecycle interface.
func (a *App) Stop(ctx context.Context) error {
	if !a.running.Swap(false) {
		return nil
	}
	a.shutdownService()
	a.config.Log.Info("op-parallel stopped")
	return nil
}

// Stopped implements the cliapp.Lifecycle interface.
func (a *App) Stopped() bool {
	return !a.running.Load()
}

// Result returns the result of the last run, nil before it finished
func (a *App) Result() *RunResult {
	return a.result
}

func (a *App) shutdownService() {
	if a.service != nil {
		a.service.Shutdown()
		a.service = nil
	}
}
