package eventstack

import (
	"encoding/json"

	"github.com/medit/medit-engine/internal/media"
)

// Graph is the processing-graph runtime an event drives. The engine
// pushes curve values into named inputs and runs the graph over the
// frame (or PCM mat); the graph's serialized form is the source of
// truth and round-trips through the event JSON.
type Graph interface {
	LoadJSON(raw json.RawMessage) error
	SaveJSON() json.RawMessage
	SetInput(name string, value float64)
	// RunFilter processes in at event-local time t of an event with
	// the given length and returns the processed mat.
	RunFilter(in *media.ImageMat, t, length int64) (*media.ImageMat, error)
	IsExecutable() bool
}

// GraphProvider creates graph instances for new and restored events.
type GraphProvider interface {
	NewGraph(kind Kind) Graph
}

// PassthroughGraphProvider builds graphs that keep their serialized
// form but do not process frames. It is the default when no graph
// runtime is wired in.
type PassthroughGraphProvider struct{}

func (PassthroughGraphProvider) NewGraph(kind Kind) Graph {
	return &passthroughGraph{}
}

type passthroughGraph struct {
	raw json.RawMessage
}

func (g *passthroughGraph) LoadJSON(raw json.RawMessage) error {
	g.raw = append(json.RawMessage(nil), raw...)
	return nil
}

func (g *passthroughGraph) SaveJSON() json.RawMessage {
	if len(g.raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return g.raw
}

func (g *passthroughGraph) SetInput(name string, value float64) {}

func (g *passthroughGraph) RunFilter(in *media.ImageMat, t, length int64) (*media.ImageMat, error) {
	return in, nil
}

func (g *passthroughGraph) IsExecutable() bool {
	return false
}
