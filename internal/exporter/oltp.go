package exporter

import (
	"github.com/google/uuid"
	v1 "go.opentelemetry.io/proto/otlp/common/v1"
	profilespb "go.opentelemetry.io/proto/otlp/profiles/v1development"
	resourceV1 "go.opentelemetry.io/proto/otlp/resource/v1"

	"github.com/VladMinzatu/xdp-plugins/internal/backend"
)

const (
	scopeName    = "xdp-plugins"
	scopeVersion = "v1"
)

type NowFunc func() uint64 // produces unix nsec

// BuildOltpProfile turns accumulated API time into an OTLP profile with one
// two-frame stack (function, queue) per sample.
func BuildOltpProfile(samples []backend.APISample, runID uuid.UUID, now NowFunc) *profilespb.ProfilesData {
	nowNsec := now()
	stringTable := []string{""}
	mappingTable := []*profilespb.Mapping{{}}
	locationTable := []*profilespb.Location{{}}
	functionTable := []*profilespb.Function{{}}
	stackTable := []*profilespb.Stack{{}}

	sampleType := &profilespb.ValueType{
		TypeStrindex: strIndex(&stringTable, "api_time"),
		UnitStrindex: strIndex(&stringTable, "nanoseconds"),
	}

	locByName := map[string]int32{}
	location := func(name string) int32 {
		if idx, ok := locByName[name]; ok {
			return idx
		}
		nameIdx := strIndex(&stringTable, name)
		functionTable = append(functionTable, &profilespb.Function{
			NameStrindex:       nameIdx,
			SystemNameStrindex: nameIdx,
		})
		fnIdx := int32(len(functionTable) - 1)
		locationTable = append(locationTable, &profilespb.Location{
			Lines: []*profilespb.Line{{FunctionIndex: fnIdx}},
		})
		idx := int32(len(locationTable) - 1)
		locByName[name] = idx
		return idx
	}

	profileSamples := make([]*profilespb.Sample, 0, len(samples))
	for _, s := range samples {
		if s.Calls == 0 {
			continue
		}
		// leaf first
		stackTable = append(stackTable, &profilespb.Stack{
			LocationIndices: []int32{location(s.Function), location(backend.QueueName(s.Queue))},
		})
		profileSamples = append(profileSamples, &profilespb.Sample{
			StackIndex:         int32(len(stackTable) - 1),
			Values:             []int64{s.Total.Nanoseconds()},
			AttributeIndices:   []int32{},
			TimestampsUnixNano: []uint64{uint64(s.Last.UnixNano())},
		})
	}

	profile := &profilespb.Profile{
		TimeUnixNano: nowNsec,
		SampleType:   sampleType,
		Samples:      profileSamples,
	}

	resourceProfiles := &profilespb.ResourceProfiles{
		Resource: runResource(runID),
		ScopeProfiles: []*profilespb.ScopeProfiles{
			{
				Scope:    &v1.InstrumentationScope{Name: scopeName, Version: scopeVersion},
				Profiles: []*profilespb.Profile{profile},
			},
		},
	}

	return &profilespb.ProfilesData{
		ResourceProfiles: []*profilespb.ResourceProfiles{resourceProfiles},
		Dictionary: &profilespb.ProfilesDictionary{
			MappingTable:  mappingTable,
			LocationTable: locationTable,
			FunctionTable: functionTable,
			StackTable:    stackTable,
			StringTable:   stringTable,
		},
	}
}

func runResource(runID uuid.UUID) *resourceV1.Resource {
	return &resourceV1.Resource{
		Attributes: []*v1.KeyValue{
			stringAttr("service.name", scopeName),
			stringAttr("xdp.run.id", runID.String()),
		},
	}
}

func stringAttr(key, value string) *v1.KeyValue {
	return &v1.KeyValue{Key: key, Value: &v1.AnyValue{Value: &v1.AnyValue_StringValue{StringValue: value}}}
}

func intAttr(key string, value int64) *v1.KeyValue {
	return &v1.KeyValue{Key: key, Value: &v1.AnyValue{Value: &v1.AnyValue_IntValue{IntValue: value}}}
}

func boolAttr(key string, value bool) *v1.KeyValue {
	return &v1.KeyValue{Key: key, Value: &v1.AnyValue{Value: &v1.AnyValue_BoolValue{BoolValue: value}}}
}

func strIndex(table *[]string, s string) int32 {
	for i, v := range *table {
		if v == s {
			return int32(i)
		}
	}
	*table = append(*table, s)
	return int32(len(*table) - 1)
}
