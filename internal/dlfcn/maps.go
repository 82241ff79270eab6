package dlfcn

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type MapRegion struct {
	Start, End uint64
	Offset     uint64
	Perms      string
	Path       string
}

type MapsReader interface {
	ReadLines() ([]string, error)
}

type ProcMapsReader struct {
	path string
}

// NewProcMapsReader reads the mappings of the current process.
func NewProcMapsReader() *ProcMapsReader {
	return &ProcMapsReader{path: "/proc/self/maps"}
}

func (p *ProcMapsReader) ReadLines() ([]string, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	s := bufio.NewScanner(f)
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// FindMapping returns the lowest mapping backed by the file at path, or nil
// if the file is not mapped into the process.
func FindMapping(r MapsReader, path string) (*MapRegion, error) {
	lines, err := r.ReadLines()
	if err != nil {
		return nil, err
	}
	want := filepath.Clean(path)
	if abs, err := filepath.Abs(want); err == nil {
		want = abs
	}

	var found *MapRegion
	for _, line := range lines {
		if line == "" {
			continue
		}
		entry, err := parseMapEntry(line)
		if err != nil {
			slog.Warn("Failed to parse map entry", "line", line, "error", err)
			continue
		}
		if entry.Path != want {
			continue
		}
		if found == nil || entry.Start < found.Start {
			e := entry
			found = &e
		}
	}
	return found, nil
}

// Example format:
//
//	55d4b2000000-55d4b2021000 r--p 00000000 08:01 131073 /usr/lib/libfoo.so
func parseMapEntry(line string) (MapRegion, error) {
	parts := strings.Fields(line)
	if len(parts) < 5 {
		return MapRegion{}, fmt.Errorf("not enough fields: %d in line \"%s\"", len(parts), line)
	}
	// pathname is optional and may contain spaces
	var path string
	if len(parts) >= 6 {
		path = strings.Join(parts[5:], " ")
	}
	se := strings.SplitN(parts[0], "-", 2)
	if len(se) != 2 {
		return MapRegion{}, fmt.Errorf("invalid address range format in line %s", line)
	}
	start, err1 := strconv.ParseUint(se[0], 16, 64)
	end, err2 := strconv.ParseUint(se[1], 16, 64)
	offv, err3 := strconv.ParseUint(parts[2], 16, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return MapRegion{}, fmt.Errorf("failed to parse numeric addresses in line %s", line)
	}
	return MapRegion{Start: start, End: end, Offset: offv, Perms: parts[1], Path: path}, nil
}
