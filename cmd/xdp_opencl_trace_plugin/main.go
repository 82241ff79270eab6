// Command xdp_opencl_trace_plugin is the reference OpenCL trace backend built
// as a loadable module:
//
//	go build -buildmode=plugin -o libxdp_opencl_trace_plugin.so ./cmd/xdp_opencl_trace_plugin
//
// Hosts find it on their plugin path under the logical name
// xdp_opencl_trace_plugin. Completed spans are written to the trace
// directory every flush interval.
package main

import (
	"log/slog"
	"os"

	"github.com/VladMinzatu/xdp-plugins/internal/backend"
	"github.com/VladMinzatu/xdp-plugins/internal/config"
	"github.com/VladMinzatu/xdp-plugins/internal/exporter"
)

var recorder = backend.NewRecorder()

func init() {
	cfg, err := config.Load(os.Getenv(config.EnvConfigFile))
	if err != nil {
		slog.Warn("Trace plugin configuration invalid, using defaults", "error", err)
		cfg = config.Default()
	}
	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	sink, err := exporter.NewFileSink(cfg.TraceDir, logger)
	if err != nil {
		logger.Error("Trace plugin cannot write traces", "error", err)
		return
	}
	f, err := backend.NewFlusher(cfg.FlushInterval, recorder, sink, logger)
	if err != nil {
		logger.Error("Trace plugin cannot flush traces", "error", err)
		return
	}
	if err := f.Start(); err != nil {
		logger.Error("Trace plugin cannot flush traces", "error", err)
		return
	}
	logger.Info("Trace plugin ready", "run_id", recorder.RunID(), "dir", cfg.TraceDir)
}

func FunctionStart(functionName string, queueAddress, functionID uint64) {
	recorder.FunctionStart(functionName, queueAddress, functionID)
}

func FunctionEnd(functionName string, queueAddress, functionID uint64) {
	recorder.FunctionEnd(functionName, queueAddress, functionID)
}

func AddDependency(id, dependency uint64) {
	recorder.AddDependency(id, dependency)
}

func ActionRead(id uint64, isStart bool, deviceAddress uint64, memoryResource string, bufferSize uint64, isP2P bool) {
	recorder.ActionRead(id, isStart, deviceAddress, memoryResource, bufferSize, isP2P)
}

func ActionWrite(id uint64, isStart bool, deviceAddress uint64, memoryResource string, bufferSize uint64, isP2P bool) {
	recorder.ActionWrite(id, isStart, deviceAddress, memoryResource, bufferSize, isP2P)
}

func ActionCopy(id uint64, isStart bool, srcDeviceAddress uint64, srcMemoryResource string, dstDeviceAddress uint64, dstMemoryResource string, bufferSize uint64, isP2P bool) {
	recorder.ActionCopy(id, isStart, srcDeviceAddress, srcMemoryResource, dstDeviceAddress, dstMemoryResource, bufferSize, isP2P)
}

func ActionNDRange(id uint64, isStart bool, deviceName, binaryName, kernelName string, workgroupX, workgroupY, workgroupZ, workgroupSize uint64) {
	recorder.ActionNDRange(id, isStart, deviceName, binaryName, kernelName, workgroupX, workgroupY, workgroupZ, workgroupSize)
}

func main() {}
