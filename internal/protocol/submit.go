package protocol

import (
	"github.com/bridgego-dev/bridgego/internal/pipeline"
)

// SubmitRequest is the single inbound message type on the duplex connection:
// one JSON object per query the user submits.
//
// When Pipeline is absent the server runs the default two-step
// generator/critic pipeline. MaxIterations, when set, overrides the
// pipeline's own bound for this run only. SkipCritique drops critic-role
// steps from the effective pipeline, which also disables the refinement loop.
type SubmitRequest struct {
	Query         string               `json:"query"`
	MaxIterations int                  `json:"maxIterations,omitempty"`
	SkipCritique  bool                 `json:"skipCritique,omitempty"`
	Pipeline      *pipeline.Definition `json:"pipeline,omitempty"`
}
