// Package eventstack implements the per-clip event-stack filter: an
// ordered list of time-scoped events, each driving a processing graph
// through key-point curves, with optional masks confining the effect.
// A stack is either a video stack (filters frames, carries masks) or
// an audio stack (filters PCM).
package eventstack

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/medit/medit-engine/internal/media"
)

// Kind tags a stack (and its events) as video or audio.
type Kind int

const (
	KindVideo Kind = iota
	KindAudio
)

const filterName = "EventStackFilter"

// Options configures a stack's collaborators. Zero values get the
// built-in defaults.
type Options struct {
	Logger     *slog.Logger
	Graphs     GraphProvider
	MaskLoader MaskCreatorLoader
	Blender    Blender
}

// Stack is an ordered list of events attached to one clip. Events are
// sorted by (start, z); two events on the same z layer never overlap
// in time. Stacks are not safe for concurrent use; the owning clip's
// track serializes access.
type Stack struct {
	kind       Kind
	logger     *slog.Logger
	graphs     GraphProvider
	maskLoader MaskCreatorLoader
	blender    Blender

	events    []*Event
	editingID int64
	lastErr   string
}

func newStack(kind Kind, opts Options) *Stack {
	s := &Stack{
		kind:       kind,
		logger:     opts.Logger,
		graphs:     opts.Graphs,
		maskLoader: opts.MaskLoader,
		blender:    opts.Blender,
		editingID:  -1,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.graphs == nil {
		s.graphs = PassthroughGraphProvider{}
	}
	if s.maskLoader == nil {
		s.maskLoader = LoadMaskCreator
	}
	if s.blender == nil {
		s.blender = DefaultBlender{}
	}
	return s
}

// NewVideoStack creates an empty video event stack.
func NewVideoStack(opts Options) *Stack {
	return newStack(KindVideo, opts)
}

// NewAudioStack creates an empty audio event stack.
func NewAudioStack(opts Options) *Stack {
	return newStack(KindAudio, opts)
}

func (s *Stack) Kind() Kind { return s.kind }

// FilterName identifies the stack in serialized form.
func (s *Stack) FilterName() string { return filterName }

// Err returns the last error message recorded by a failed operation.
func (s *Stack) Err() string { return s.lastErr }

func (s *Stack) setErr(format string, args ...any) {
	s.lastErr = fmt.Sprintf(format, args...)
}

// GetEvent returns the event with the id, or nil.
func (s *Stack) GetEvent(id int64) *Event {
	for _, e := range s.events {
		if e.id == id {
			return e
		}
	}
	return nil
}

// EventList returns the events in (start, z) order.
func (s *Stack) EventList() []*Event {
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}

// EventListByZ returns the events on one z layer, in start order.
func (s *Stack) EventListByZ(z int32) []*Event {
	var out []*Event
	for _, e := range s.events {
		if e.z == z {
			out = append(out, e)
		}
	}
	return out
}

func eventIntersects(e *Event, start, end int64, z int32) bool {
	return e.z == z && start < e.end && e.start < end
}

// AddNewEvent creates an event with the range [start, end) on layer
// z. The range is normalized so start < end; a range intersecting an
// existing event on the same layer is rejected with ErrInvalidRange.
func (s *Stack) AddNewEvent(id, start, end int64, z int32) (*Event, error) {
	if start == end {
		s.setErr("event %d: start and end cannot be identical", id)
		return nil, fmt.Errorf("event %d empty range: %w", id, ErrInvalidRange)
	}
	if s.GetEvent(id) != nil {
		s.setErr("event with id %d already exists", id)
		return nil, fmt.Errorf("event %d: %w", id, ErrAlreadyExists)
	}
	if end < start {
		start, end = end, start
	}
	for _, e := range s.events {
		if eventIntersects(e, start, end, z) {
			s.setErr("event range [%d, %d) on z %d overlaps event %d", start, end, z, e.id)
			return nil, fmt.Errorf("event range [%d, %d) z %d: %w", start, end, z, ErrInvalidRange)
		}
	}

	evt := &Event{
		owner: s,
		id:    id,
		start: start,
		end:   end,
		z:     z,
		graph: s.graphs.NewGraph(s.kind),
		kp:    NewKeyPointEditor(end - start),
	}
	s.events = append(s.events, evt)
	s.sortEvents()
	return evt, nil
}

// RemoveEvent drops the event with the id; unknown ids are ignored.
func (s *Stack) RemoveEvent(id int64) {
	for i, e := range s.events {
		if e.id == id {
			s.events = append(s.events[:i], s.events[i+1:]...)
			return
		}
	}
}

// ChangeEventRange resizes an event. On success the event's curve
// domain is rescaled to the new length.
func (s *Stack) ChangeEventRange(id, start, end int64) error {
	if start == end {
		s.setErr("event %d: start and end cannot be identical", id)
		return fmt.Errorf("event %d empty range: %w", id, ErrInvalidRange)
	}
	if end < start {
		start, end = end, start
	}
	evt := s.GetEvent(id)
	if evt == nil {
		s.setErr("cannot find event with id %d", id)
		return fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	for _, e := range s.events {
		if e.id == id {
			continue
		}
		if eventIntersects(e, start, end, evt.z) {
			s.setErr("event range [%d, %d) overlaps event %d", start, end, e.id)
			return fmt.Errorf("event %d range [%d, %d): %w", id, start, end, ErrInvalidRange)
		}
	}
	evt.start = start
	evt.end = end
	evt.kp.SetRange(evt.Length(), true)
	s.sortEvents()
	return nil
}

// MoveEvent shifts an event to a new start (keeping its length) and
// layer.
func (s *Stack) MoveEvent(id, start int64, z int32) error {
	evt := s.GetEvent(id)
	if evt == nil {
		s.setErr("cannot find event with id %d", id)
		return fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	end := evt.end + (start - evt.start)
	for _, e := range s.events {
		if e.id == id {
			continue
		}
		if eventIntersects(e, start, end, z) {
			s.setErr("event range [%d, %d) on z %d overlaps event %d", start, end, z, e.id)
			return fmt.Errorf("event %d move to %d z %d: %w", id, start, z, ErrInvalidRange)
		}
	}
	evt.start = start
	evt.end = end
	evt.z = z
	s.sortEvents()
	return nil
}

// MoveAllEvents shifts every event by offset. No validation; callers
// ensure the result fits their timeline.
func (s *Stack) MoveAllEvents(offset int64) {
	for _, e := range s.events {
		e.start += offset
		e.end += offset
	}
}

// SetEditingEvent marks the transient UI selection; -1 clears it.
func (s *Stack) SetEditingEvent(id int64) error {
	if id == -1 {
		s.editingID = -1
		return nil
	}
	if s.GetEvent(id) == nil {
		s.setErr("cannot find event with id %d", id)
		return fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	s.editingID = id
	return nil
}

func (s *Stack) GetEditingEvent() *Event {
	return s.GetEvent(s.editingID)
}

// FilterImage applies the events covering pos to the frame, in
// (start, z) order. Only valid on video stacks.
func (s *Stack) FilterImage(in *media.ImageMat, pos int64) *media.ImageMat {
	if s.kind != KindVideo || in.Empty() {
		return in
	}
	out := in
	for _, e := range s.events {
		if e.IsInRange(pos) {
			out = e.filterImage(out, pos-e.start)
		}
	}
	return out
}

// FilterPcm applies the events covering pos to a PCM block of the
// given duration. Only valid on audio stacks.
func (s *Stack) FilterPcm(in []float32, pos, dur int64) []float32 {
	if s.kind != KindAudio || len(in) == 0 {
		return in
	}
	out := in
	for _, e := range s.events {
		if e.IsInRange(pos) {
			out = e.filterPcm(out, pos-e.start, dur)
		}
	}
	return out
}

func (s *Stack) sortEvents() {
	sort.SliceStable(s.events, func(i, j int) bool {
		a, b := s.events[i], s.events[j]
		if a.start != b.start {
			return a.start < b.start
		}
		return a.z < b.z
	})
}

type stackJSON struct {
	Name   string      `json:"name"`
	Events []eventJSON `json:"events"`
}

// SaveJSON serializes the full event list.
func (s *Stack) SaveJSON() ([]byte, error) {
	j := stackJSON{Name: filterName, Events: make([]eventJSON, 0, len(s.events))}
	for _, e := range s.events {
		j.Events = append(j.Events, e.saveJSON())
	}
	raw, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("serialize event stack: %w", err)
	}
	if s.logger.Enabled(nil, slog.LevelDebug) {
		s.logger.Debug("saved event stack json", "events", len(s.events))
	}
	return raw, nil
}

// Clone round-trips the stack through its serialized form.
func (s *Stack) Clone() (*Stack, error) {
	raw, err := s.SaveJSON()
	if err != nil {
		return nil, err
	}
	opts := Options{Logger: s.logger, Graphs: s.graphs, MaskLoader: s.maskLoader, Blender: s.blender}
	if s.kind == KindVideo {
		return LoadVideoFromJSON(raw, opts)
	}
	return LoadAudioFromJSON(raw, opts)
}

// RestoreEventFromJSON parses one serialized event and enrolls it,
// subject to the duplicate-id and overlap rules.
func (s *Stack) RestoreEventFromJSON(raw json.RawMessage) (*Event, error) {
	var j eventJSON
	if err := json.Unmarshal(raw, &j); err != nil {
		s.setErr("bad event json: %v", err)
		return nil, fmt.Errorf("event json: %w", ErrParseFailed)
	}
	evt, err := s.eventFromJSON(j)
	if err != nil {
		return nil, err
	}
	if err := s.enrollEvent(evt); err != nil {
		return nil, err
	}
	return evt, nil
}

func (s *Stack) eventFromJSON(j eventJSON) (*Event, error) {
	if j.Start >= j.End {
		s.setErr("bad event json: empty range [%d, %d)", j.Start, j.End)
		return nil, fmt.Errorf("event %d range: %w", j.ID, ErrParseFailed)
	}
	if len(j.Bp) == 0 {
		s.setErr("bad event json: missing 'bp'")
		return nil, fmt.Errorf("event %d graph: %w", j.ID, ErrParseFailed)
	}
	evt := &Event{
		owner: s,
		id:    j.ID,
		start: j.Start,
		end:   j.End,
		z:     j.Z,
		graph: s.graphs.NewGraph(s.kind),
		kp:    NewKeyPointEditor(j.End - j.Start),
	}
	if err := evt.graph.LoadJSON(j.Bp); err != nil {
		s.setErr("bad event json: invalid graph: %v", err)
		return nil, fmt.Errorf("event %d graph: %w", j.ID, ErrParseFailed)
	}
	if len(j.Kp) > 0 {
		if err := evt.kp.Load(j.Kp); err != nil {
			s.setErr("bad event json: invalid key points: %v", err)
			return nil, fmt.Errorf("event %d key points: %w", j.ID, ErrParseFailed)
		}
		evt.kp.SetRange(evt.Length(), true)
	}
	if s.kind == KindVideo {
		for _, maskRaw := range j.EventMasks {
			creator, err := s.maskLoader(maskRaw)
			if err != nil {
				s.setErr("bad event json: invalid mask: %v", err)
				return nil, fmt.Errorf("event %d mask: %w", j.ID, ErrParseFailed)
			}
			evt.eventMaskJSON = append(evt.eventMaskJSON, maskRaw)
			evt.eventMasks = append(evt.eventMasks, creator)
		}
		for _, entry := range j.MaskTable {
			if evt.effectMaskTable == nil {
				evt.effectMaskTable = make(map[int64][]json.RawMessage)
			}
			evt.effectMaskTable[entry.NodeID] = entry.Masks
		}
	}
	return evt, nil
}

func (s *Stack) enrollEvent(evt *Event) error {
	for _, e := range s.events {
		if e.id == evt.id {
			s.setErr("already contains an event with id %d", evt.id)
			return fmt.Errorf("event %d: %w", evt.id, ErrAlreadyExists)
		}
		if eventIntersects(e, evt.start, evt.end, evt.z) {
			s.setErr("restored event overlaps event %d", e.id)
			return fmt.Errorf("event %d: %w", evt.id, ErrInvalidRange)
		}
	}
	s.events = append(s.events, evt)
	s.sortEvents()
	return nil
}

// LoadVideoFromJSON deserializes a video event stack. A failure
// yields no stack (never a partial one).
func LoadVideoFromJSON(raw []byte, opts Options) (*Stack, error) {
	return loadFromJSON(KindVideo, raw, opts)
}

// LoadAudioFromJSON deserializes an audio event stack.
func LoadAudioFromJSON(raw []byte, opts Options) (*Stack, error) {
	return loadFromJSON(KindAudio, raw, opts)
}

func loadFromJSON(kind Kind, raw []byte, opts Options) (*Stack, error) {
	var j stackJSON
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("event stack json: %w", ErrParseFailed)
	}
	if j.Name != filterName {
		return nil, fmt.Errorf("filter name %q: %w", j.Name, ErrParseFailed)
	}
	s := newStack(kind, opts)
	for _, ej := range j.Events {
		evt, err := s.eventFromJSON(ej)
		if err != nil {
			return nil, err
		}
		if err := s.enrollEvent(evt); err != nil {
			return nil, err
		}
	}
	return s, nil
}
