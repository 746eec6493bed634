package core

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"reflect"
	"runtime"
	"syscall"
	"time"

	"github.com/encodeous/dvrouter/perf"
	"github.com/encodeous/dvrouter/state"
	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"
)

var ErrShutdown = errors.New("received shutdown signal")

// Bootstrap loads the node config and runs the node until it is stopped
func Bootstrap(nodePath, logPath string, verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	nodeCfg, err := state.ReadLocalConfig(nodePath)
	if err != nil {
		return err
	}
	if logPath != "" {
		nodeCfg.LogPath = logPath
	}
	state.ExpandLocalConfig(nodeCfg)
	err = state.NodeConfigValidator(nodeCfg)
	if err != nil {
		return err
	}
	return Start(*nodeCfg, level)
}

func NewLogger(ncfg state.LocalCfg, logLevel slog.Level) (*slog.Logger, error) {
	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        logLevel,
			AddSource:    false,
			TimeFormat:   "15:04:05",
			CustomPrefix: string(ncfg.Id),
		}))

	if ncfg.LogPath != "" {
		err := os.MkdirAll(path.Dir(ncfg.LogPath), 0700)
		if err != nil {
			return nil, err
		}
		f, err := os.OpenFile(ncfg.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: logLevel}))
	}

	return slog.New(slogmulti.Fanout(handlers...)), nil
}

// Start runs the node until its context is cancelled
func Start(ncfg state.LocalCfg, logLevel slog.Level) error {
	logger, err := NewLogger(ncfg, logLevel)
	if err != nil {
		return err
	}
	n, err := NewNode(ncfg, logger)
	if err != nil {
		return err
	}
	return n.Run()
}

// Node is an initialized node whose main loop has not been started yet
type Node struct {
	*state.State
	dispatch chan func(*state.State) error
}

// NewNode initializes every module. The listener is bound once NewNode returns.
func NewNode(ncfg state.LocalCfg, logger *slog.Logger) (*Node, error) {
	ctx, cancel := context.WithCancelCause(context.Background())

	dispatch := make(chan func(env *state.State) error, 128)

	s := state.State{
		Modules: make(map[string]state.NyModule),
		Env: &state.Env{
			Context:         ctx,
			Cancel:          cancel,
			DispatchChannel: dispatch,
			LocalCfg:        ncfg,
			Log:             logger,
		},
	}

	s.Log.Info("init modules")
	err := initModules(&s)
	if err != nil {
		s.Cancel(err)
		Stop(&s)
		return nil, err
	}
	s.Log.Info("init modules complete")
	return &Node{State: &s, dispatch: dispatch}, nil
}

// Run blocks on the main loop until the node is cancelled or receives SIGINT/SIGTERM
func (n *Node) Run() error {
	n.Log.Info("dvrouter has been initialized. To gracefully exit, send SIGINT or Ctrl+C.")

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(c)
		select {
		case <-c:
			n.Cancel(ErrShutdown)
		case <-n.Context.Done():
			return
		}
	}()

	return MainLoop(n.State, n.dispatch)
}

func initModules(s *state.State) error {
	var modules []state.NyModule
	modules = append(modules, &DvRouter{})
	modules = append(modules, &Linker{})
	modules = append(modules, &Admin{})

	for _, module := range modules {
		s.Modules[reflect.TypeOf(module).String()] = module
		if err := module.Init(s); err != nil {
			return err
		}
	}
	return nil
}

func MainLoop(s *state.State, dispatch <-chan func(*state.State) error) error {
	s.Log.Debug("started main loop")
	s.Started.Store(true)
	for {
		select {
		case fun := <-dispatch:
			start := time.Now()
			err := fun(s)
			if err != nil {
				s.Log.Error("error occurred during dispatch: ", "error", err)
				s.Cancel(err)
			}
			elapsed := time.Since(start)
			perf.DispatchLatency.Add(float64(elapsed.Microseconds()))
			if elapsed > time.Millisecond*4 {
				s.Log.Warn("dispatch took a long time!", "fun", runtime.FuncForPC(reflect.ValueOf(fun).Pointer()).Name(), "elapsed", elapsed, "len", len(dispatch))
			}
		case <-s.Context.Done():
			goto endLoop
		}
	}
endLoop:
	cause := context.Cause(s.Context)
	s.Log.Info("stopped main loop", "reason", cause)
	Stop(s)
	if errors.Is(cause, context.Canceled) || errors.Is(cause, ErrShutdown) {
		return nil
	}
	return cause
}

func Stop(s *state.State) {
	if s.Stopping.Swap(true) {
		return // don't stop twice
	}
	s.Cancel(context.Canceled)
	s.Log.Info("cleaning up modules")
	for moduleName, module := range s.Modules {
		err := module.Cleanup(s)
		if err != nil {
			s.Log.Error("error occurred during Stop: ", "module", moduleName, "error", err)
		}
	}
	s.Log.Info("stopped")
}
