package eventstack

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/medit/medit-engine/internal/media"
)

// Event is one time-scoped effect on a clip's content: a range in
// clip-local milliseconds, a layering z, a processing graph driven by
// key-point curves, and (for video) masks confining the effect.
type Event struct {
	owner  *Stack
	id     int64
	start  int64
	end    int64
	z      int32
	status uint32

	graph Graph
	kp    *KeyPointEditor

	// video only: event-level masks and the per-node mask table
	eventMaskJSON []json.RawMessage
	eventMasks    []MaskCreator
	maskCache     []*media.ImageMat
	maskCacheW    int
	maskCacheH    int

	effectMaskTable map[int64][]json.RawMessage
}

func (e *Event) ID() int64      { return e.id }
func (e *Event) Start() int64   { return e.start }
func (e *Event) End() int64     { return e.end }
func (e *Event) Length() int64  { return e.end - e.start }
func (e *Event) Z() int32       { return e.z }
func (e *Event) Status() uint32 { return e.status }

func (e *Event) IsInRange(pos int64) bool {
	return pos >= e.start && pos < e.end
}

func (e *Event) Graph() Graph              { return e.graph }
func (e *Event) KeyPoints() *KeyPointEditor { return e.kp }
func (e *Event) Owner() *Stack             { return e.owner }

func (e *Event) SetStatus(status uint32) {
	e.status = status
}

// SetStatusBit sets or clears one bit of the status bitset.
func (e *Event) SetStatusBit(bit int, val int) {
	e.status = e.status&^(1<<uint(bit)) | uint32(val&1)<<uint(bit)
}

// ChangeRange delegates to the owning stack so the overlap rule is
// enforced in one place.
func (e *Event) ChangeRange(start, end int64) error {
	return e.owner.ChangeEventRange(e.id, start, end)
}

// Move delegates to the owning stack.
func (e *Event) Move(start int64, z int32) error {
	return e.owner.MoveEvent(e.id, start, z)
}

// MaskCount returns the number of event-level masks.
func (e *Event) MaskCount() int {
	return len(e.eventMaskJSON)
}

// NodeMaskCount returns the number of masks attached to a graph node.
func (e *Event) NodeMaskCount(nodeID int64) int {
	return len(e.effectMaskTable[nodeID])
}

func (e *Event) GetMask(index int) (json.RawMessage, error) {
	if index < 0 || index >= len(e.eventMaskJSON) {
		return nil, fmt.Errorf("event %d has %d masks, index %d: %w", e.id, len(e.eventMaskJSON), index, ErrInvalidArgument)
	}
	return e.eventMaskJSON[index], nil
}

func (e *Event) GetNodeMask(nodeID int64, index int) (json.RawMessage, error) {
	masks, ok := e.effectMaskTable[nodeID]
	if !ok {
		return nil, fmt.Errorf("no mask for node %d: %w", nodeID, ErrNotFound)
	}
	if index < 0 || index >= len(masks) {
		return nil, fmt.Errorf("node %d has %d masks, index %d: %w", nodeID, len(masks), index, ErrInvalidArgument)
	}
	return masks[index], nil
}

// SaveMask stores an event-level mask. index == len appends; a
// negative index also appends.
func (e *Event) SaveMask(raw json.RawMessage, index int) error {
	creator, err := e.owner.maskLoader(raw)
	if err != nil {
		return err
	}
	if index > len(e.eventMaskJSON) {
		return fmt.Errorf("event %d has %d masks, cannot save at %d: %w", e.id, len(e.eventMaskJSON), index, ErrInvalidArgument)
	}
	if index < 0 || index == len(e.eventMaskJSON) {
		e.eventMaskJSON = append(e.eventMaskJSON, raw)
		e.eventMasks = append(e.eventMasks, creator)
	} else {
		e.eventMaskJSON[index] = raw
		e.eventMasks[index] = creator
	}
	e.invalidateMaskCache()
	return nil
}

// SaveNodeMask stores a mask for a graph node.
func (e *Event) SaveNodeMask(nodeID int64, raw json.RawMessage, index int) error {
	masks := e.effectMaskTable[nodeID]
	if index > len(masks) {
		return fmt.Errorf("node %d has %d masks, cannot save at %d: %w", nodeID, len(masks), index, ErrInvalidArgument)
	}
	if e.effectMaskTable == nil {
		e.effectMaskTable = make(map[int64][]json.RawMessage)
	}
	if index < 0 || index == len(masks) {
		e.effectMaskTable[nodeID] = append(masks, raw)
	} else {
		masks[index] = raw
	}
	return nil
}

func (e *Event) RemoveMask(index int) error {
	if index < 0 || index >= len(e.eventMaskJSON) {
		return fmt.Errorf("event %d has %d masks, cannot remove %d: %w", e.id, len(e.eventMaskJSON), index, ErrInvalidArgument)
	}
	e.eventMaskJSON = append(e.eventMaskJSON[:index], e.eventMaskJSON[index+1:]...)
	e.eventMasks = append(e.eventMasks[:index], e.eventMasks[index+1:]...)
	e.invalidateMaskCache()
	return nil
}

func (e *Event) RemoveNodeMask(nodeID int64, index int) error {
	masks, ok := e.effectMaskTable[nodeID]
	if !ok {
		return fmt.Errorf("no mask for node %d: %w", nodeID, ErrNotFound)
	}
	if index < 0 || index >= len(masks) {
		return fmt.Errorf("node %d has %d masks, cannot remove %d: %w", nodeID, len(masks), index, ErrInvalidArgument)
	}
	e.effectMaskTable[nodeID] = append(masks[:index], masks[index+1:]...)
	return nil
}

func (e *Event) invalidateMaskCache() {
	e.maskCache = nil
	e.maskCacheW, e.maskCacheH = 0, 0
}

// combinedMask materializes the event masks at the frame size and
// merges them by pixel-wise max (union of shapes). Materialized mats
// are cached per size.
func (e *Event) combinedMask(w, h int) *media.ImageMat {
	if len(e.eventMasks) == 0 {
		return nil
	}
	if e.maskCacheW != w || e.maskCacheH != h || len(e.maskCache) != len(e.eventMasks) {
		e.maskCache = make([]*media.ImageMat, len(e.eventMasks))
		for i, mc := range e.eventMasks {
			e.maskCache[i] = mc.Materialize(w, h, false)
		}
		e.maskCacheW, e.maskCacheH = w, h
	}
	if len(e.maskCache) == 1 {
		return e.maskCache[0]
	}
	combined := e.maskCache[0].Clone()
	for _, m := range e.maskCache[1:] {
		media.MaxInto(combined, m)
	}
	return combined
}

// filterImage runs the event's graph over the frame at event-local
// pos and composites the result back through the combined mask.
func (e *Event) filterImage(in *media.ImageMat, pos int64) *media.ImageMat {
	if !e.graph.IsExecutable() {
		return in
	}
	for i := 0; i < e.kp.CurveCount(); i++ {
		e.graph.SetInput(e.kp.CurveName(i), e.kp.Value(i, pos))
	}
	out, err := e.graph.RunFilter(in, pos, e.Length())
	if err != nil || out.Empty() {
		return in
	}
	if mask := e.combinedMask(in.W, in.H); mask != nil {
		out = e.owner.blender.Blend(out, in, mask)
	}
	return out
}

// filterPcm runs the event's graph over a PCM block at event-local
// pos. Audio events carry no masks.
func (e *Event) filterPcm(in []float32, pos, dur int64) []float32 {
	if !e.graph.IsExecutable() {
		return in
	}
	for i := 0; i < e.kp.CurveCount(); i++ {
		e.graph.SetInput(e.kp.CurveName(i), e.kp.Value(i, pos))
	}
	mat := &media.ImageMat{W: len(in), H: 1, Channels: 1, Data: in}
	out, err := e.graph.RunFilter(mat, pos, e.Length())
	if err != nil || out.Empty() {
		return in
	}
	return out.Data
}

type eventMaskTableEntry struct {
	NodeID int64             `json:"node_id"`
	Masks  []json.RawMessage `json:"masks"`
}

type eventJSON struct {
	ID         int64                 `json:"id"`
	Start      int64                 `json:"start"`
	End        int64                 `json:"end"`
	Z          int32                 `json:"z"`
	Bp         json.RawMessage       `json:"bp"`
	Kp         json.RawMessage       `json:"kp"`
	EventMasks []json.RawMessage     `json:"event_masks,omitempty"`
	MaskTable  []eventMaskTableEntry `json:"effect_mask_table,omitempty"`
}

func (e *Event) saveJSON() eventJSON {
	j := eventJSON{
		ID:    e.id,
		Start: e.start,
		End:   e.end,
		Z:     e.z,
		Bp:    e.graph.SaveJSON(),
		Kp:    e.kp.Save(),
	}
	if e.owner.kind == KindVideo {
		j.EventMasks = e.eventMaskJSON
		for nodeID, masks := range e.effectMaskTable {
			j.MaskTable = append(j.MaskTable, eventMaskTableEntry{NodeID: nodeID, Masks: masks})
		}
		sort.Slice(j.MaskTable, func(a, b int) bool { return j.MaskTable[a].NodeID < j.MaskTable[b].NodeID })
	}
	return j
}
