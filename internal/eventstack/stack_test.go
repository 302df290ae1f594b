package eventstack

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/medit/medit-engine/internal/media"
)

// zeroGraph blanks every pixel it is run over. Its serialized form is
// carried verbatim.
type zeroGraph struct {
	raw    json.RawMessage
	inputs map[string]float64
}

func (g *zeroGraph) LoadJSON(raw json.RawMessage) error {
	g.raw = append(json.RawMessage(nil), raw...)
	return nil
}

func (g *zeroGraph) SaveJSON() json.RawMessage {
	if len(g.raw) == 0 {
		return json.RawMessage(`{"op":"zero"}`)
	}
	return g.raw
}

func (g *zeroGraph) SetInput(name string, value float64) {
	if g.inputs == nil {
		g.inputs = make(map[string]float64)
	}
	g.inputs[name] = value
}

func (g *zeroGraph) RunFilter(in *media.ImageMat, t, length int64) (*media.ImageMat, error) {
	out := in.Clone()
	out.Fill(0)
	return out, nil
}

func (g *zeroGraph) IsExecutable() bool { return true }

type zeroGraphProvider struct{}

func (zeroGraphProvider) NewGraph(kind Kind) Graph { return &zeroGraph{} }

// gainGraph scales PCM by its "gain" input, for audio filter tests.
type gainGraph struct {
	raw  json.RawMessage
	gain float64
}

func (g *gainGraph) LoadJSON(raw json.RawMessage) error {
	g.raw = append(json.RawMessage(nil), raw...)
	return nil
}

func (g *gainGraph) SaveJSON() json.RawMessage {
	if len(g.raw) == 0 {
		return json.RawMessage(`{"op":"gain"}`)
	}
	return g.raw
}

func (g *gainGraph) SetInput(name string, value float64) {
	if name == "gain" {
		g.gain = value
	}
}

func (g *gainGraph) RunFilter(in *media.ImageMat, t, length int64) (*media.ImageMat, error) {
	out := in.Clone()
	for i := range out.Data {
		out.Data[i] *= float32(g.gain)
	}
	return out, nil
}

func (g *gainGraph) IsExecutable() bool { return true }

type gainGraphProvider struct{}

func (gainGraphProvider) NewGraph(kind Kind) Graph { return &gainGraph{} }

func TestAddEventOverlapRules(t *testing.T) {
	s := NewVideoStack(Options{})

	if _, err := s.AddNewEvent(1, 100, 500, 0); err != nil {
		t.Fatalf("add event 1: %v", err)
	}

	tests := []struct {
		name    string
		id      int64
		start   int64
		end     int64
		z       int32
		wantErr error
	}{
		{"duplicate id", 1, 600, 700, 0, ErrAlreadyExists},
		{"empty range", 2, 300, 300, 0, ErrInvalidRange},
		{"same z intersect", 2, 400, 600, 0, ErrInvalidRange},
		{"same z contained", 2, 200, 300, 0, ErrInvalidRange},
		{"other z intersect ok", 2, 400, 600, 1, nil},
		{"same z abutting ok", 3, 500, 700, 0, nil},
		{"reversed range normalized", 4, 900, 700, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, err := s.AddNewEvent(tt.id, tt.start, tt.end, tt.z)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("AddNewEvent() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("AddNewEvent() error: %v", err)
			}
			if evt.Start() >= evt.End() {
				t.Errorf("event range [%d, %d) not normalized", evt.Start(), evt.End())
			}
		})
	}

	// list order is (start, z)
	events := s.EventList()
	for i := 1; i < len(events); i++ {
		a, b := events[i-1], events[i]
		if a.Start() > b.Start() || (a.Start() == b.Start() && a.Z() > b.Z()) {
			t.Errorf("events out of (start, z) order at %d", i)
		}
	}
}

func TestChangeEventRangeRescalesCurves(t *testing.T) {
	s := NewVideoStack(Options{})
	evt, err := s.AddNewEvent(1, 0, 1000, 0)
	if err != nil {
		t.Fatalf("AddNewEvent() error: %v", err)
	}

	c := evt.KeyPoints().AddCurve("strength", 0)
	c.SetPoint(0, 0)
	c.SetPoint(1000, 1)

	if err := s.ChangeEventRange(1, 0, 500); err != nil {
		t.Fatalf("ChangeEventRange() error: %v", err)
	}
	if evt.Length() != 500 {
		t.Errorf("event length = %d, want 500", evt.Length())
	}
	// the end point moved from 1000 to 500; mid-curve value follows
	if got := c.Value(500); got != 1 {
		t.Errorf("curve value at new end = %f, want 1", got)
	}
	if got := c.Value(250); got != 0.5 {
		t.Errorf("curve value at midpoint = %f, want 0.5", got)
	}
}

func TestMoveEventAndMoveAll(t *testing.T) {
	s := NewVideoStack(Options{})
	s.AddNewEvent(1, 0, 100, 0)
	s.AddNewEvent(2, 200, 300, 0)

	if err := s.MoveEvent(1, 150, 1); err != nil {
		t.Fatalf("MoveEvent() error: %v", err)
	}
	evt := s.GetEvent(1)
	if evt.Start() != 150 || evt.End() != 250 {
		t.Errorf("moved event range = [%d, %d), want [150, 250)", evt.Start(), evt.End())
	}

	// moving onto event 2's layer range is rejected
	if err := s.MoveEvent(1, 250, 0); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("MoveEvent() into occupied range error = %v, want ErrInvalidRange", err)
	}

	// offsets shift everything unchecked, including negative
	s.MoveAllEvents(-50)
	if got := s.GetEvent(1).Start(); got != 100 {
		t.Errorf("event 1 start after MoveAllEvents = %d, want 100", got)
	}
	if got := s.GetEvent(2).Start(); got != 150 {
		t.Errorf("event 2 start after MoveAllEvents = %d, want 150", got)
	}
}

func TestEditingEventSelection(t *testing.T) {
	s := NewVideoStack(Options{})
	s.AddNewEvent(7, 0, 100, 0)

	if err := s.SetEditingEvent(99); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetEditingEvent(99) error = %v, want ErrNotFound", err)
	}
	if err := s.SetEditingEvent(7); err != nil {
		t.Fatalf("SetEditingEvent(7) error: %v", err)
	}
	if got := s.GetEditingEvent(); got == nil || got.ID() != 7 {
		t.Error("GetEditingEvent() did not return the selected event")
	}
	s.SetEditingEvent(-1)
	if s.GetEditingEvent() != nil {
		t.Error("GetEditingEvent() after clearing returned an event")
	}
}

func TestFilterImageWithCircularMask(t *testing.T) {
	s := NewVideoStack(Options{Graphs: zeroGraphProvider{}})
	evt, err := s.AddNewEvent(1, 500, 1500, 0)
	if err != nil {
		t.Fatalf("AddNewEvent() error: %v", err)
	}
	maskJSON := json.RawMessage(`{"shape":"circle","cx":0.5,"cy":0.5,"radius":0.1}`)
	if err := evt.SaveMask(maskJSON, -1); err != nil {
		t.Fatalf("SaveMask() error: %v", err)
	}

	in := media.NewImageMat(100, 100, 1)
	in.Fill(0.8)

	// inside the event range: zero inside the mask circle, input outside
	out := s.FilterImage(in, 1000)
	if got := out.At(50, 50, 0); got != 0 {
		t.Errorf("pixel at mask center = %f, want 0", got)
	}
	if got := out.At(5, 5, 0); got != 0.8 {
		t.Errorf("pixel outside mask = %f, want 0.8", got)
	}

	// outside the event range the input is untouched
	out = s.FilterImage(in, 200)
	if got := out.At(50, 50, 0); got != 0.8 {
		t.Errorf("pixel outside event range = %f, want 0.8", got)
	}
}

func TestFilterPcmWithCurveDrivenGain(t *testing.T) {
	s := NewAudioStack(Options{Graphs: gainGraphProvider{}})
	evt, err := s.AddNewEvent(1, 0, 1000, 0)
	if err != nil {
		t.Fatalf("AddNewEvent() error: %v", err)
	}
	c := evt.KeyPoints().AddCurve("gain", 1)
	c.SetPoint(0, 0)
	c.SetPoint(1000, 1)

	in := make([]float32, 16)
	for i := range in {
		in[i] = 1
	}

	out := s.FilterPcm(in, 500, 10)
	if got := out[0]; got != 0.5 {
		t.Errorf("gain at curve midpoint = %f, want 0.5", got)
	}

	// outside the event the block passes through
	out = s.FilterPcm(in, 1500, 10)
	if got := out[0]; got != 1 {
		t.Errorf("pcm outside event = %f, want 1", got)
	}
}

func TestStackJSONRoundTrip(t *testing.T) {
	s := NewVideoStack(Options{Graphs: zeroGraphProvider{}})
	evt, _ := s.AddNewEvent(1, 100, 600, 0)
	evt.KeyPoints().AddCurve("strength", 0).SetPoint(250, 0.5)
	evt.SaveMask(json.RawMessage(`{"shape":"circle","cx":0.25,"cy":0.25,"radius":0.2}`), -1)
	evt.SaveNodeMask(42, json.RawMessage(`{"shape":"rect","x0":0,"y0":0,"x1":0.5,"y1":0.5}`), -1)
	s.AddNewEvent(2, 700, 900, 3)

	raw, err := s.SaveJSON()
	if err != nil {
		t.Fatalf("SaveJSON() error: %v", err)
	}

	restored, err := LoadVideoFromJSON(raw, Options{Graphs: zeroGraphProvider{}})
	if err != nil {
		t.Fatalf("LoadVideoFromJSON() error: %v", err)
	}

	raw2, err := restored.SaveJSON()
	if err != nil {
		t.Fatalf("SaveJSON() of restored stack error: %v", err)
	}

	var a, b any
	json.Unmarshal(raw, &a)
	json.Unmarshal(raw2, &b)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("round-tripped stack differs (-first +second):\n%s", diff)
	}

	if restored.GetEvent(1).MaskCount() != 1 {
		t.Error("restored event lost its mask")
	}
	if restored.GetEvent(1).NodeMaskCount(42) != 1 {
		t.Error("restored event lost its node mask")
	}
	if got := restored.GetEvent(1).KeyPoints().CurveCount(); got != 1 {
		t.Errorf("restored curve count = %d, want 1", got)
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"garbage", "{not json"},
		{"wrong name", `{"name":"SomethingElse","events":[]}`},
		{"empty event range", `{"name":"EventStackFilter","events":[{"id":1,"start":5,"end":5,"z":0,"bp":{},"kp":{}}]}`},
		{"missing graph", `{"name":"EventStackFilter","events":[{"id":1,"start":0,"end":5,"z":0,"kp":{}}]}`},
		{"overlapping events", `{"name":"EventStackFilter","events":[
			{"id":1,"start":0,"end":100,"z":0,"bp":{},"kp":{}},
			{"id":2,"start":50,"end":150,"z":0,"bp":{},"kp":{}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if s, err := LoadVideoFromJSON([]byte(tt.raw), Options{}); err == nil || s != nil {
				t.Errorf("LoadVideoFromJSON() = %v, %v; want nil, error", s, err)
			}
		})
	}
}

func TestRestoreEventFromJSON(t *testing.T) {
	s := NewVideoStack(Options{})
	s.AddNewEvent(1, 0, 100, 0)

	raw := json.RawMessage(`{"id":2,"start":100,"end":200,"z":0,"bp":{},"kp":{}}`)
	evt, err := s.RestoreEventFromJSON(raw)
	if err != nil {
		t.Fatalf("RestoreEventFromJSON() error: %v", err)
	}
	if evt.ID() != 2 || evt.Start() != 100 {
		t.Errorf("restored event = id %d start %d, want id 2 start 100", evt.ID(), evt.Start())
	}

	// duplicate id is refused
	if _, err := s.RestoreEventFromJSON(raw); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate restore error = %v, want ErrAlreadyExists", err)
	}

	// overlapping restore is refused
	overlapping := json.RawMessage(`{"id":3,"start":50,"end":150,"z":0,"bp":{},"kp":{}}`)
	if _, err := s.RestoreEventFromJSON(overlapping); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("overlapping restore error = %v, want ErrInvalidRange", err)
	}
}

func TestCloneEqualsSource(t *testing.T) {
	s := NewAudioStack(Options{Graphs: gainGraphProvider{}})
	s.AddNewEvent(1, 0, 400, 0)
	s.AddNewEvent(2, 400, 800, 1)

	clone, err := s.Clone()
	if err != nil {
		t.Fatalf("Clone() error: %v", err)
	}
	if clone.Kind() != KindAudio {
		t.Error("clone changed kind")
	}
	if len(clone.EventList()) != 2 {
		t.Errorf("clone has %d events, want 2", len(clone.EventList()))
	}
}
