// Package timebase provides rational-timebase arithmetic and id
// assignment for the editing engine. All positions and durations are
// expressed in a common millisecond integer domain internally and
// rescaled from/to stream timebases at the boundaries.
package timebase

import "fmt"

// Ratio is a rational number num/den, used both as a stream timebase
// and as a frame rate.
type Ratio struct {
	Num int64 `json:"num"`
	Den int64 `json:"den"`
}

// Millisec is the engine-internal timebase: 1/1000 second units.
var Millisec = Ratio{Num: 1, Den: 1000}

func (r Ratio) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

func (r Ratio) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Rescale converts a value expressed in timebase `from` into timebase
// `to`, truncating toward zero. Either ratio being invalid yields 0.
func Rescale(v int64, from, to Ratio) int64 {
	if !from.Valid() || !to.Valid() {
		return 0
	}
	return v * from.Num * to.Den / (from.Den * to.Num)
}

// FrameIndex returns the index of the frame covering position pos (ms)
// at the given frame rate.
func FrameIndex(pos int64, frameRate Ratio) int64 {
	if !frameRate.Valid() {
		return 0
	}
	return pos * frameRate.Num / (frameRate.Den * 1000)
}

// FramePos returns the millisecond position of frame idx at the given
// frame rate.
func FramePos(idx int64, frameRate Ratio) int64 {
	if !frameRate.Valid() {
		return 0
	}
	return idx * frameRate.Den * 1000 / frameRate.Num
}

// MillisecToString formats a millisecond position as HH:MM:SS.mmm.
func MillisecToString(ms int64) string {
	sign := ""
	if ms < 0 {
		sign = "-"
		ms = -ms
	}
	milli := ms % 1000
	t := ms / 1000
	sec := t % 60
	t /= 60
	min := t % 60
	hour := t / 60
	return fmt.Sprintf("%s%02d:%02d:%02d.%03d", sign, hour, min, sec, milli)
}
