//go:build !(linux || darwin || freebsd)

package dlfcn

import (
	"fmt"
	"log/slog"
)

func ModuleFileName(name string) string {
	return name + ".dll"
}

// PluginOpener never finds anything on platforms without Go plugin support.
type PluginOpener struct {
	searchPath []string
}

func NewPluginOpener(searchPath []string, _ *slog.Logger) *PluginOpener {
	return &PluginOpener{searchPath: searchPath}
}

func (o *PluginOpener) Open(name string) (Handle, error) {
	return nil, fmt.Errorf("%w: %s (plugins unsupported on this platform)", ErrNotFound, name)
}
