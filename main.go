package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/VladMinzatu/xdp-plugins/internal/abi"
	"github.com/VladMinzatu/xdp-plugins/internal/aie"
	"github.com/VladMinzatu/xdp-plugins/internal/backend"
	"github.com/VladMinzatu/xdp-plugins/internal/config"
	"github.com/VladMinzatu/xdp-plugins/internal/dlfcn"
	"github.com/VladMinzatu/xdp-plugins/internal/exporter"
	"github.com/VladMinzatu/xdp-plugins/internal/hal"
	"github.com/VladMinzatu/xdp-plugins/internal/loader"
	"github.com/VladMinzatu/xdp-plugins/internal/opencl"
)

var (
	configPath  string
	inspectPath string
	runFor      time.Duration
	workers     int
)

func init() {
	flag.StringVar(&configPath, "config", os.Getenv(config.EnvConfigFile), "YAML configuration file")
	flag.StringVar(&inspectPath, "inspect", "", "report which trace callbacks a module file exports, then exit")
	flag.DurationVar(&runFor, "t", 3*time.Second, "run the synthetic workload for this long")
	flag.IntVar(&workers, "workers", 4, "number of concurrent workload threads")
}

// moduleSymbols lists the symbols the host looks up in each module.
var moduleSymbols = map[string][]string{
	hal.ModuleName:            {abi.SymUpdateDeviceHAL, abi.SymFlushDeviceHAL},
	opencl.OffloadModuleName:  {abi.SymUpdateDeviceOpenCL, abi.SymFlushDeviceOpenCL},
	opencl.CountersModuleName: {abi.SymCounterFunctionStart, abi.SymCounterFunctionEnd},
	aie.ModuleName:            {abi.SymUpdateAIEDevice, abi.SymFlushAIEDevice, abi.SymFinishFlushAIEDevice},
	opencl.TraceModuleName: {
		abi.SymFunctionStart, abi.SymFunctionEnd, abi.SymAddDependency,
		abi.SymActionRead, abi.SymActionWrite, abi.SymActionCopy, abi.SymActionNDRange,
	},
}

func main() {
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)

	if inspectPath != "" {
		if err := inspect(inspectPath); err != nil {
			logger.Error("Failed to inspect module", "path", inspectPath, "error", err)
			os.Exit(1)
		}
		return
	}

	var rec *backend.Recorder
	if cfg.StaticBackend {
		rec = backend.NewRecorder(backend.WithLogger(logger))
		rec.Register(loader.DefaultStatic)
		logger.Info("Using in-process trace backend", "run_id", rec.RunID())
	}

	opener := dlfcn.Chain(loader.DefaultStatic, dlfcn.NewPluginOpener(cfg.PluginPath, logger))
	loader.SetDefault(loader.NewCache(opener, loader.WithLogger(logger), loader.WithAllow(cfg.Allow)))

	var flusher *backend.Flusher
	if rec != nil {
		sink, err := exporter.NewFileSink(cfg.TraceDir, logger)
		if err != nil {
			logger.Error("Failed to initialise trace sink", "error", err)
			os.Exit(1)
		}
		flusher, err = backend.NewFlusher(cfg.FlushInterval, rec, sink, logger)
		if err != nil {
			logger.Error("Failed to initialise flusher", "error", err)
			os.Exit(1)
		}
		if err := flusher.Start(); err != nil {
			logger.Error("Failed to start flusher", "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, runFor)
	defer cancel()

	start := time.Now()
	calls := runWorkload(ctx, workers)
	logger.Info("Workload finished", "api_calls", calls, "elapsed", time.Since(start))

	states := loader.Default().States()
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		logger.Info("Module state", "module", name, "state", states[name])
	}

	if rec == nil {
		return
	}
	if err := flusher.Stop(); err != nil {
		logger.Error("Failed to write final trace batch", "error", err)
	}
	if err := exporter.WriteRunOutputs(cfg.TraceDir, rec, start); err != nil {
		logger.Error("Failed to write run outputs", "error", err)
		os.Exit(1)
	}
	logger.Info("Trace written", "dir", cfg.TraceDir, "open_spans", rec.OpenSpans())
}

func inspect(path string) error {
	all := make([]string, 0)
	for _, syms := range moduleSymbols {
		all = append(all, syms...)
	}
	found, err := dlfcn.Exports(path, all...)
	if err != nil {
		return err
	}

	modules := make([]string, 0, len(moduleSymbols))
	for name := range moduleSymbols {
		modules = append(modules, name)
	}
	sort.Strings(modules)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tSYMBOL\tEXPORTED")
	for _, name := range modules {
		for _, sym := range moduleSymbols[name] {
			fmt.Fprintf(tw, "%s\t%s\t%t\n", name, sym, found[sym])
		}
	}
	return tw.Flush()
}
