package exporter

import (
	"encoding/binary"
	"fmt"

	v1 "go.opentelemetry.io/proto/otlp/common/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/VladMinzatu/xdp-plugins/internal/backend"
)

// SpanID derives the 8 byte span id of a recorded span. API ids and command
// ids are separate sequences, so the kind goes into the top byte.
func SpanID(kind backend.Kind, id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(kind+1)<<56|id&(1<<56-1))
	return b
}

// BuildOtlpTraces converts one batch into OTLP spans. All batches of a run
// share the trace id derived from the run id. Device lifecycle callbacks
// become zero length spans.
func BuildOtlpTraces(b backend.Batch) *tracepb.TracesData {
	traceID := b.RunID[:]
	spans := make([]*tracepb.Span, 0, len(b.Spans)+len(b.Devices))

	for _, s := range b.Spans {
		spans = append(spans, &tracepb.Span{
			TraceId:           traceID,
			SpanId:            SpanID(s.Kind, s.ID),
			Name:              spanName(s),
			Kind:              tracepb.Span_SPAN_KIND_INTERNAL,
			StartTimeUnixNano: uint64(s.Start.UnixNano()),
			EndTimeUnixNano:   uint64(s.End.UnixNano()),
			Attributes:        spanAttributes(s),
		})
	}

	for i, d := range b.Devices {
		ts := uint64(d.Time.UnixNano())
		spans = append(spans, &tracepb.Span{
			TraceId:           traceID,
			SpanId:            deviceSpanID(b.Seq, i),
			Name:              d.Module + " " + d.Op,
			Kind:              tracepb.Span_SPAN_KIND_INTERNAL,
			StartTimeUnixNano: ts,
			EndTimeUnixNano:   ts,
			Attributes: []*v1.KeyValue{
				stringAttr("xdp.module", d.Module),
				stringAttr("xdp.device.handle", fmt.Sprintf("0x%x", d.Handle)),
			},
		})
	}

	return &tracepb.TracesData{
		ResourceSpans: []*tracepb.ResourceSpans{
			{
				Resource: runResource(b.RunID),
				ScopeSpans: []*tracepb.ScopeSpans{
					{
						Scope: &v1.InstrumentationScope{Name: scopeName, Version: scopeVersion},
						Spans: spans,
					},
				},
			},
		},
	}
}

func spanName(s backend.Span) string {
	switch s.Kind {
	case backend.KindAPI:
		return s.Name
	case backend.KindKernel:
		return "kernel " + s.Name
	default:
		return s.Kind.String()
	}
}

func spanAttributes(s backend.Span) []*v1.KeyValue {
	attrs := []*v1.KeyValue{
		stringAttr("xdp.kind", s.Kind.String()),
		intAttr("xdp.id", int64(s.ID)),
	}
	switch s.Kind {
	case backend.KindAPI:
		attrs = append(attrs, stringAttr("xdp.queue", backend.QueueName(s.Queue)))
	case backend.KindRead, backend.KindWrite:
		attrs = append(attrs,
			stringAttr("xdp.memory.bank", s.Bank),
			intAttr("xdp.memory.address", int64(s.Address)),
			intAttr("xdp.bytes", int64(s.Bytes)),
			boolAttr("xdp.p2p", s.P2P),
		)
	case backend.KindCopy:
		attrs = append(attrs,
			stringAttr("xdp.memory.bank", s.Bank),
			stringAttr("xdp.memory.dst_bank", s.DstBank),
			intAttr("xdp.bytes", int64(s.Bytes)),
			boolAttr("xdp.p2p", s.P2P),
		)
	case backend.KindKernel:
		attrs = append(attrs,
			stringAttr("xdp.device", s.Device),
			stringAttr("xdp.binary", s.Binary),
			stringAttr("xdp.workgroup", fmt.Sprintf("%dx%dx%d", s.WorkGroup[0], s.WorkGroup[1], s.WorkGroup[2])),
			intAttr("xdp.workgroup_size", int64(s.WorkGroupSize)),
		)
	}
	if len(s.DependsOn) > 0 {
		deps := make([]*v1.AnyValue, 0, len(s.DependsOn))
		for _, d := range s.DependsOn {
			deps = append(deps, &v1.AnyValue{Value: &v1.AnyValue_IntValue{IntValue: int64(d)}})
		}
		attrs = append(attrs, &v1.KeyValue{
			Key:   "xdp.depends_on",
			Value: &v1.AnyValue{Value: &v1.AnyValue_ArrayValue{ArrayValue: &v1.ArrayValue{Values: deps}}},
		})
	}
	return attrs
}

// deviceSpanID numbers device events within a batch; the top byte is 0xff so
// they never collide with recorded spans.
func deviceSpanID(seq uint64, i int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, 0xff<<56|(seq&0xffffff)<<32|uint64(i)&0xffffffff)
	return b
}
