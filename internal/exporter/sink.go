package exporter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"

	"github.com/VladMinzatu/xdp-plugins/internal/backend"
	"github.com/VladMinzatu/xdp-plugins/internal/pprof"
)

// FileSink writes each flushed batch as a serialized OTLP TracesData file in
// dir.
type FileSink struct {
	dir    string
	logger *slog.Logger
}

func NewFileSink(dir string, logger *slog.Logger) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSink{dir: dir, logger: logger}, nil
}

func BatchFileName(runID uuid.UUID, seq uint64) string {
	return fmt.Sprintf("trace-%s-%06d.pb", runID, seq)
}

func (s *FileSink) WriteBatch(ctx context.Context, b backend.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := proto.Marshal(BuildOtlpTraces(b))
	if err != nil {
		return fmt.Errorf("marshal traces: %w", err)
	}
	path := filepath.Join(s.dir, BatchFileName(b.RunID, b.Seq))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	s.logger.Debug("Wrote trace batch", "path", path, "bytes", len(data))
	return nil
}

// Output file names of WriteRunOutputs.
const (
	ProfileFile = "api_time.otlp.pb"
	PprofFile   = "api_time.pb.gz"
	FoldedFile  = "api_time.folded"
	SummaryFile = "opencl_summary.txt"
)

// WriteRunOutputs writes the end of run views of a recorder into dir: the API
// time profile (OTLP and pprof), its folded stacks and the counters summary.
func WriteRunOutputs(dir string, r *backend.Recorder, start time.Time) error {
	samples := r.APISamples()

	data, err := proto.Marshal(BuildOltpProfile(samples, r.RunID(), func() uint64 { return uint64(time.Now().UnixNano()) }))
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ProfileFile), data, 0o644); err != nil {
		return err
	}

	p, err := pprof.BuildPprofProfile(samples, start)
	if err != nil {
		return fmt.Errorf("build pprof profile: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, PprofFile))
	if err != nil {
		return err
	}
	if err := pprof.WriteProfileGzip(p, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := WriteFoldedStacksToFile(BuildFoldedStacks(samples), filepath.Join(dir, FoldedFile)); err != nil {
		return err
	}

	sf, err := os.Create(filepath.Join(dir, SummaryFile))
	if err != nil {
		return err
	}
	defer sf.Close()
	return WriteSummary(sf, r.Summary())
}

// WriteSummary prints the counters as an aligned table.
func WriteSummary(w io.Writer, stats []backend.APIStats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FUNCTION\tCALLS\tOOO CALLS\tTOTAL\tAVERAGE\tMAX")
	for _, st := range stats {
		var avg time.Duration
		if st.Calls > 0 {
			avg = st.Total / time.Duration(st.Calls)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n", st.Function, st.Calls, st.OutOfOrder, st.Total, avg, st.Max)
	}
	return tw.Flush()
}
