package exporter

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	v1 "go.opentelemetry.io/proto/otlp/common/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"

	"github.com/VladMinzatu/xdp-plugins/internal/backend"
)

func attr(span *tracepb.Span, key string) *v1.AnyValue {
	for _, kv := range span.Attributes {
		if kv.Key == key {
			return kv.Value
		}
	}
	return nil
}

func testBatch() backend.Batch {
	t0 := time.Unix(50, 0)
	return backend.Batch{
		RunID: testRunID,
		Seq:   3,
		Time:  t0.Add(time.Second),
		Spans: []backend.Span{
			{Kind: backend.KindAPI, ID: 1, Name: "clEnqueueNDRangeKernel", Queue: 0x10, Start: t0, End: t0.Add(time.Millisecond)},
			{
				Kind: backend.KindKernel, ID: 1, Name: "krnl_vadd", Device: "u250", Binary: "vadd",
				WorkGroup: [3]uint64{16, 1, 1}, WorkGroupSize: 16, DependsOn: []uint64{7, 8},
				Start: t0, End: t0.Add(2 * time.Millisecond),
			},
			{Kind: backend.KindRead, ID: 9, Name: "read", Bank: "DDR[0]", Bytes: 4096, Start: t0, End: t0},
		},
		Devices: []backend.DeviceEvent{
			{Time: t0, Module: "xdp_aie_trace_plugin", Op: "flush", Handle: 0xbeef},
		},
	}
}

func TestBuildOtlpTraces(t *testing.T) {
	td := BuildOtlpTraces(testBatch())

	if len(td.ResourceSpans) != 1 || len(td.ResourceSpans[0].ScopeSpans) != 1 {
		t.Fatalf("expected a single resource and scope")
	}
	if !proto.Equal(td.ResourceSpans[0].Resource, expectedResource()) {
		t.Fatalf("unexpected resource %v", td.ResourceSpans[0].Resource)
	}
	spans := td.ResourceSpans[0].ScopeSpans[0].Spans
	if len(spans) != 4 {
		t.Fatalf("expected 4 spans, got %d", len(spans))
	}

	for _, s := range spans {
		if !bytes.Equal(s.TraceId, testRunID[:]) {
			t.Fatalf("span %q has trace id %x", s.Name, s.TraceId)
		}
		if len(s.SpanId) != 8 {
			t.Fatalf("span %q has a %d byte span id", s.Name, len(s.SpanId))
		}
	}

	api, kernel, read, device := spans[0], spans[1], spans[2], spans[3]
	if api.Name != "clEnqueueNDRangeKernel" || api.EndTimeUnixNano-api.StartTimeUnixNano != uint64(time.Millisecond) {
		t.Fatalf("unexpected api span %v", api)
	}
	if bytes.Equal(api.SpanId, kernel.SpanId) {
		t.Fatalf("api call and kernel with the same id must not share a span id")
	}
	if kernel.Name != "kernel krnl_vadd" || attr(kernel, "xdp.workgroup").GetStringValue() != "16x1x1" {
		t.Fatalf("unexpected kernel span %v", kernel)
	}
	deps := attr(kernel, "xdp.depends_on").GetArrayValue().GetValues()
	if len(deps) != 2 || deps[0].GetIntValue() != 7 || deps[1].GetIntValue() != 8 {
		t.Fatalf("unexpected dependencies %v", deps)
	}
	if attr(read, "xdp.bytes").GetIntValue() != 4096 || attr(read, "xdp.memory.bank").GetStringValue() != "DDR[0]" {
		t.Fatalf("unexpected read span %v", read)
	}
	if device.Name != "xdp_aie_trace_plugin flush" || attr(device, "xdp.device.handle").GetStringValue() != "0xbeef" {
		t.Fatalf("unexpected device span %v", device)
	}
	if device.StartTimeUnixNano != device.EndTimeUnixNano {
		t.Fatalf("device events are instantaneous")
	}
}

func TestSpanID(t *testing.T) {
	got := SpanID(backend.KindRead, 0x0102)
	want := []byte{2, 0, 0, 0, 0, 0, 0x01, 0x02}
	if !bytes.Equal(got, want) {
		t.Fatalf("SpanID = %x, want %x", got, want)
	}
}

func TestFileSink_WriteBatch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "trace")
	sink, err := NewFileSink(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}

	b := testBatch()
	if err := sink.WriteBatch(context.Background(), b); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, BatchFileName(b.RunID, b.Seq)))
	if err != nil {
		t.Fatalf("read batch file: %v", err)
	}
	var td tracepb.TracesData
	if err := proto.Unmarshal(raw, &td); err != nil {
		t.Fatalf("unmarshal batch file: %v", err)
	}
	if !proto.Equal(&td, BuildOtlpTraces(b)) {
		t.Fatalf("file content does not match the batch")
	}
}

func TestFileSink_CanceledContext(t *testing.T) {
	sink, err := NewFileSink(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sink.WriteBatch(ctx, testBatch()); err == nil {
		t.Fatalf("expected an error for a canceled context")
	}
}

func TestWriteRunOutputs(t *testing.T) {
	r := backend.NewRecorder(backend.WithRunID(testRunID))
	r.FunctionStart("clFinish", 0x10, 1)
	r.FunctionEnd("clFinish", 0x10, 1)
	r.CounterFunctionStart("clFinish", 0x10, false)
	r.CounterFunctionEnd("clFinish")

	dir := t.TempDir()
	if err := WriteRunOutputs(dir, r, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("WriteRunOutputs: %v", err)
	}
	for _, name := range []string{ProfileFile, PprofFile, FoldedFile, SummaryFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing output %s: %v", name, err)
		}
	}

	summary, err := os.ReadFile(filepath.Join(dir, SummaryFile))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(summary)), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "clFinish") {
		t.Fatalf("unexpected summary:\n%s", summary)
	}
}

func TestWriteSummary_ZeroCalls(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSummary(&buf, []backend.APIStats{{Function: "clPending", OutOfOrder: 1}}); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}
	if !strings.Contains(buf.String(), "clPending") {
		t.Fatalf("missing row:\n%s", buf.String())
	}
}
