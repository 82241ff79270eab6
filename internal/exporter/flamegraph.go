package exporter

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/VladMinzatu/xdp-plugins/internal/backend"
)

// BuildFoldedStacks aggregates API time into folded stacks (root first):
// queue;function -> nanoseconds.
func BuildFoldedStacks(samples []backend.APISample) map[string]uint64 {
	agg := make(map[string]uint64)
	for _, s := range samples {
		if s.Total <= 0 {
			continue
		}
		key := escapeFoldedName(backend.QueueName(s.Queue)) + ";" + escapeFoldedName(s.Function)
		agg[key] += uint64(s.Total.Nanoseconds())
	}
	return agg
}

func escapeFoldedName(name string) string {
	// semicolons separate frames and newlines separate lines. Replace them with safe characters.
	name = strings.ReplaceAll(name, ";", "_")  // frame separator in folded stacks format
	name = strings.ReplaceAll(name, "\n", " ") // line separator, duh
	name = strings.TrimSpace(name)
	if name == "" {
		return "<unknown>"
	}
	return name
}

func WriteFoldedStacksToFile(agg map[string]uint64, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	type kv struct {
		k string
		v uint64
	}
	var items []kv
	for k, v := range agg {
		items = append(items, kv{k, v})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].v == items[j].v {
			return items[i].k < items[j].k
		}
		return items[i].v > items[j].v
	})

	for _, it := range items {
		if _, err := fmt.Fprintf(f, "%s %d\n", it.k, it.v); err != nil {
			return err
		}
	}
	return nil
}
