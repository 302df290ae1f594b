package eventstack

import (
	"encoding/json"
	"fmt"
	"sort"
)

// KeyPoint is one control point of a curve: value V at time T
// (event-local milliseconds).
type KeyPoint struct {
	T int64   `json:"t"`
	V float64 `json:"v"`
}

// Curve is a named numeric function of time defined by key points
// with linear interpolation between them.
type Curve struct {
	Name    string     `json:"name"`
	Default float64    `json:"default"`
	Points  []KeyPoint `json:"points"`
}

// Value evaluates the curve at t. Outside the key-point range the
// nearest end point holds; a curve without points yields its default.
func (c *Curve) Value(t int64) float64 {
	if len(c.Points) == 0 {
		return c.Default
	}
	if t <= c.Points[0].T {
		return c.Points[0].V
	}
	last := c.Points[len(c.Points)-1]
	if t >= last.T {
		return last.V
	}
	for i := 1; i < len(c.Points); i++ {
		if t < c.Points[i].T {
			p0, p1 := c.Points[i-1], c.Points[i]
			frac := float64(t-p0.T) / float64(p1.T-p0.T)
			return p0.V + (p1.V-p0.V)*frac
		}
	}
	return last.V
}

// SetPoint inserts a key point, replacing an existing point at the
// same time.
func (c *Curve) SetPoint(t int64, v float64) {
	for i := range c.Points {
		if c.Points[i].T == t {
			c.Points[i].V = v
			return
		}
	}
	c.Points = append(c.Points, KeyPoint{T: t, V: v})
	sort.Slice(c.Points, func(i, j int) bool { return c.Points[i].T < c.Points[j].T })
}

// KeyPointEditor holds the named curves of one event. The curve
// domain is [0, length].
type KeyPointEditor struct {
	curves []*Curve
	length int64
}

func NewKeyPointEditor(length int64) *KeyPointEditor {
	return &KeyPointEditor{length: length}
}

func (e *KeyPointEditor) Length() int64 {
	return e.length
}

func (e *KeyPointEditor) CurveCount() int {
	return len(e.curves)
}

func (e *KeyPointEditor) CurveName(i int) string {
	if i < 0 || i >= len(e.curves) {
		return ""
	}
	return e.curves[i].Name
}

// AddCurve creates (or returns the existing) curve with the name.
func (e *KeyPointEditor) AddCurve(name string, defaultVal float64) *Curve {
	if c := e.CurveByName(name); c != nil {
		return c
	}
	c := &Curve{Name: name, Default: defaultVal}
	e.curves = append(e.curves, c)
	return c
}

func (e *KeyPointEditor) CurveByName(name string) *Curve {
	for _, c := range e.curves {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Value evaluates curve i at time t.
func (e *KeyPointEditor) Value(i int, t int64) float64 {
	if i < 0 || i >= len(e.curves) {
		return 0
	}
	return e.curves[i].Value(t)
}

// SetRange changes the curve domain to [0, length]. With scale set,
// existing key points are rescaled proportionally into the new
// domain; otherwise points past the new end are clamped onto it.
func (e *KeyPointEditor) SetRange(length int64, scale bool) {
	old := e.length
	e.length = length
	for _, c := range e.curves {
		for i := range c.Points {
			if scale && old > 0 {
				c.Points[i].T = c.Points[i].T * length / old
			} else if c.Points[i].T > length {
				c.Points[i].T = length
			}
		}
	}
}

type keyPointEditorJSON struct {
	Length int64    `json:"length"`
	Curves []*Curve `json:"curves"`
}

func (e *KeyPointEditor) Save() json.RawMessage {
	raw, err := json.Marshal(keyPointEditorJSON{Length: e.length, Curves: e.curves})
	if err != nil {
		return nil
	}
	return raw
}

func (e *KeyPointEditor) Load(raw json.RawMessage) error {
	var j keyPointEditorJSON
	if err := json.Unmarshal(raw, &j); err != nil {
		return fmt.Errorf("key point editor: %w", ErrParseFailed)
	}
	e.length = j.Length
	e.curves = j.Curves
	return nil
}
