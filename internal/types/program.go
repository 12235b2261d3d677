package types

import (
	"github.com/google/uuid"
)

// Program is one test case held by the corpus. The instruction set, builder
// and normalization logic live in the surrounding fuzzer; the corpus only
// ever asks for the operation count.
type Program interface {
	Size() int
}

// Preparer is the "prepare for inclusion" step run on every program before
// it is admitted: assign a stable identifier, strip operations that are not
// worth retaining verbatim (debug/print/assertion calls).
type Preparer interface {
	PrepareForInclusion(p Program) Program
}

// Feedback carries the execution-feedback aspects observed for a program.
// The corpus passes it through untouched; only a feedback-directed engine
// interprets it.
type Feedback struct {
	NewEdges   uint32 `json:"new_edges"`
	ExecTimeMS uint32 `json:"exec_time_ms"`
}

// RawProgram is the default Program used when no fuzzer-side IR is wired in
// (mock engine, seeding, tests). OpCount stands in for the real operation
// list; Data is whatever the producing side wants round-tripped.
type RawProgram struct {
	ID      string
	OpCount int
	Data    []byte
}

func (p *RawProgram) Size() int {
	return p.OpCount
}

type NopPreparer struct{}

func NewNopPreparer() *NopPreparer {
	return &NopPreparer{}
}

// PrepareForInclusion assigns a stable identifier to raw programs and leaves
// everything else alone.
func (n *NopPreparer) PrepareForInclusion(p Program) Program {
	if raw, ok := p.(*RawProgram); ok && raw.ID == "" {
		raw.ID = uuid.New().String()
	}
	return p
}
