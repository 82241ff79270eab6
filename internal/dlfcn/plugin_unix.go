//go:build linux || darwin || freebsd

package dlfcn

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"plugin"

	"golang.org/x/sys/unix"
)

// ModuleFileName maps a logical module name to its file name.
func ModuleFileName(name string) string {
	return "lib" + name + ".so"
}

type symbolTable interface {
	Lookup(symName string) (plugin.Symbol, error)
}

// PluginOpener opens Go plugins (built with -buildmode=plugin) from a list of
// directories, first match wins.
type PluginOpener struct {
	searchPath []string
	logger     *slog.Logger
	openFn     func(path string) (symbolTable, error)
}

func NewPluginOpener(searchPath []string, logger *slog.Logger) *PluginOpener {
	if logger == nil {
		logger = slog.Default()
	}
	return &PluginOpener{
		searchPath: searchPath,
		logger:     logger,
		openFn: func(path string) (symbolTable, error) {
			return plugin.Open(path)
		},
	}
}

func (o *PluginOpener) Open(name string) (Handle, error) {
	path, err := o.locate(name)
	if err != nil {
		return nil, err
	}
	p, err := o.openFn(path)
	if err != nil {
		return nil, fmt.Errorf("opening plugin %s: %w", path, err)
	}
	if region, err := FindMapping(NewProcMapsReader(), path); err == nil && region != nil {
		o.logger.Debug("Module mapped", "module", name, "path", path,
			"start", fmt.Sprintf("0x%x", region.Start), "end", fmt.Sprintf("0x%x", region.End))
	}
	return &pluginHandle{name: name, path: path, table: p}, nil
}

func (o *PluginOpener) locate(name string) (string, error) {
	file := ModuleFileName(name)
	for _, dir := range o.searchPath {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, file)
		if err := unix.Access(candidate, unix.R_OK); err != nil {
			o.logger.Debug("Module not readable in search dir", "path", candidate, "error", err)
			continue
		}
		return candidate, nil
	}
	return "", fmt.Errorf("%w: %s not in %v", ErrNotFound, file, o.searchPath)
}

type pluginHandle struct {
	name  string
	path  string
	table symbolTable
}

func (h *pluginHandle) Name() string { return h.name }

func (h *pluginHandle) Path() string { return h.path }

func (h *pluginHandle) Lookup(symbol string) (any, bool) {
	sym, err := h.table.Lookup(symbol)
	if err != nil {
		return nil, false
	}
	return any(sym), true
}
