package telemetry

import "go.opentelemetry.io/otel/attribute"

// Span attribute keys shared by corpus spans.
const (
	AttrCorpusSize       = "fuzz.corpus.size"
	AttrCorpusEvicted    = "fuzz.corpus.evicted"
	AttrCheckpointBytes  = "fuzz.checkpoint.bytes"
	AttrCheckpointCount  = "fuzz.checkpoint.samples"
	AttrCorpusTotalAdded = "fuzz.corpus.total_added"
)

func CorpusSize(n int) attribute.KeyValue {
	return attribute.Int(AttrCorpusSize, n)
}

func CorpusEvicted(n int) attribute.KeyValue {
	return attribute.Int(AttrCorpusEvicted, n)
}

func CorpusTotalAdded(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrCorpusTotalAdded, int64(n))
}

func CheckpointSamples(n int) attribute.KeyValue {
	return attribute.Int(AttrCheckpointCount, n)
}

func CheckpointBytes(n int) attribute.KeyValue {
	return attribute.Int(AttrCheckpointBytes, n)
}
