package timeline

import (
	"encoding/json"
	"testing"

	"github.com/medit/medit-engine/internal/eventstack"
	"github.com/medit/medit-engine/internal/media"
	"github.com/medit/medit-engine/internal/timebase"
)

// invertGraph flips pixel values, for observing that a clip's event
// stack runs during track reads.
type invertGraph struct{ raw json.RawMessage }

func (g *invertGraph) LoadJSON(raw json.RawMessage) error { g.raw = raw; return nil }
func (g *invertGraph) SaveJSON() json.RawMessage          { return json.RawMessage(`{}`) }
func (g *invertGraph) SetInput(name string, value float64) {}
func (g *invertGraph) IsExecutable() bool                  { return true }

func (g *invertGraph) RunFilter(in *media.ImageMat, t, length int64) (*media.ImageMat, error) {
	out := in.Clone()
	for i := range out.Data {
		out.Data[i] = 1 - out.Data[i]
	}
	return out, nil
}

type invertGraphProvider struct{}

func (invertGraphProvider) NewGraph(kind eventstack.Kind) eventstack.Graph { return &invertGraph{} }

type constSource struct {
	dur int64
	val float32
}

func (s *constSource) Duration() int64 { return s.dur }

func (s *constSource) ReadFrame(pos int64) (*media.ImageMat, error) {
	mat := media.NewImageMat(8, 8, 1)
	mat.Fill(s.val)
	return mat, nil
}

func TestClipEventStackFiltersTrackReads(t *testing.T) {
	track, err := NewVideoTrack(1, 1920, 1080, timebase.Ratio{Num: 25, Den: 1})
	if err != nil {
		t.Fatal(err)
	}
	clip, err := track.AddNewClip(1, &constSource{dur: 2000, val: 0.25}, 0, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	stack := eventstack.NewVideoStack(eventstack.Options{Graphs: invertGraphProvider{}})
	if _, err := stack.AddNewEvent(1, 500, 1500, 0); err != nil {
		t.Fatal(err)
	}
	clip.Filter = stack

	// before the event the pixels pass through
	track.SeekTo(0)
	mat := track.ReadVideoFrame()
	if got := mat.At(0, 0, 0); got != 0.25 {
		t.Errorf("pixel before event = %f, want 0.25", got)
	}

	// inside the event range the graph inverts them
	track.SeekTo(1000)
	mat = track.ReadVideoFrame()
	if got := mat.At(0, 0, 0); got != 0.75 {
		t.Errorf("pixel inside event = %f, want 0.75", got)
	}
}
