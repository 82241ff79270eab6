package pprof

import (
	"io"
	"sort"
	"time"

	"github.com/google/pprof/profile"

	"github.com/VladMinzatu/xdp-plugins/internal/backend"
)

// BuildPprofProfile builds a host API time profile: one sample per function
// and queue, with the call count and the total time as values. start is the
// beginning of the traced run.
func BuildPprofProfile(samples []backend.APISample, start time.Time) (*profile.Profile, error) {
	if len(samples) == 0 {
		p := &profile.Profile{}
		return p, nil
	}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "calls", Unit: "count"},
			{Type: "api_time", Unit: "nanoseconds"},
		},
		PeriodType: &profile.ValueType{Type: "api_time", Unit: "nanoseconds"},
		Period:     1,
	}

	locs := map[string]*profile.Location{}
	nextID := uint64(1)

	// function and location share ids; every frame name maps to exactly one
	// of each
	locationFor := func(name string) *profile.Location {
		if loc, ok := locs[name]; ok {
			return loc
		}
		fn := &profile.Function{ID: nextID, Name: name, SystemName: name}
		loc := &profile.Location{ID: nextID, Line: []profile.Line{{Function: fn}}}
		nextID++
		locs[name] = loc
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		return loc
	}

	end := start
	for _, s := range samples {
		if s.Calls == 0 {
			continue
		}
		queue := backend.QueueName(s.Queue)
		// pprof stacks are leaf first
		p.Sample = append(p.Sample, &profile.Sample{
			Value:    []int64{int64(s.Calls), s.Total.Nanoseconds()},
			Location: []*profile.Location{locationFor(s.Function), locationFor(queue)},
			Label:    map[string][]string{"queue": {queue}},
		})
		if s.Last.After(end) {
			end = s.Last
		}
	}

	p.TimeNanos = start.UnixNano()
	p.DurationNanos = end.Sub(start).Nanoseconds()

	// sort for deterministic output
	sort.Slice(p.Function, func(i, j int) bool { return p.Function[i].ID < p.Function[j].ID })
	sort.Slice(p.Location, func(i, j int) bool { return p.Location[i].ID < p.Location[j].ID })

	return p, p.CheckValid()
}

// WriteProfileGzip writes p in the form pprof reads. profile.Write output is
// already gzip-compressed.
func WriteProfileGzip(p *profile.Profile, w io.Writer) error {
	return p.Write(w)
}
