// Package media defines the interfaces the editing engine consumes
// from the media backend (demuxer, decoders, resampler, converter,
// audio render) together with the image/sample containers flowing
// between pipeline stages. The engine never talks to a codec library
// directly; it is wired against these interfaces.
package media

import (
	"github.com/medit/medit-engine/internal/timebase"
)

type MediaType int

const (
	MediaTypeUnknown MediaType = iota
	MediaTypeVideo
	MediaTypeAudio
	MediaTypeSubtitle
)

func (t MediaType) String() string {
	switch t {
	case MediaTypeVideo:
		return "video"
	case MediaTypeAudio:
		return "audio"
	case MediaTypeSubtitle:
		return "subtitle"
	default:
		return "unknown"
	}
}

type PixelFormat int

const (
	PixFmtNone PixelFormat = iota
	PixFmtYUV420P
	PixFmtYUV422P
	PixFmtYUV444P
	PixFmtNV12
	PixFmtP010
	PixFmtRGBA
	// PixFmtHwSurface marks frames living in device memory; they must
	// be transferred to system memory before conversion.
	PixFmtHwSurface
)

type SampleFormat int

const (
	SampleFmtNone SampleFormat = iota
	SampleFmtS16
	SampleFmtS32
	SampleFmtFLT
	SampleFmtFLTP
)

// BytesPerSample returns the byte size of one sample of the format.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case SampleFmtS16:
		return 2
	case SampleFmtS32, SampleFmtFLT, SampleFmtFLTP:
		return 4
	default:
		return 0
	}
}

type PcmFormat int

const (
	PcmFormatSint16 PcmFormat = iota
	PcmFormatFloat32
)

type ColorSpace int

const (
	ColorSpaceBT601 ColorSpace = iota
	ColorSpaceBT709
	ColorSpaceBT2020
)

type ColorRange int

const (
	ColorRangeNarrow ColorRange = iota
	ColorRangeFull
)

type ColorFormat int

const (
	ColorFormatYUV420 ColorFormat = iota
	ColorFormatYUV422
	ColorFormatYUV444
	ColorFormatNV12
	ColorFormatP010
	ColorFormatRGBA
	ColorFormatGray
)

type PictureType int

const (
	PictureTypeNone PictureType = iota
	PictureTypeI
	PictureTypeP
	PictureTypeB
)

type InterpolationMode int

const (
	InterpolateBilinear InterpolationMode = iota
	InterpolateNearest
	InterpolateBicubic
	InterpolateArea
)

// StreamInfo describes one stream of an opened media file.
type StreamInfo struct {
	Index         int
	Type          MediaType
	TimeBase      timebase.Ratio
	StartPts      int64
	DurationPts   int64
	AvgFrameRate  timebase.Ratio
	Width         int
	Height        int
	SampleRate    int
	Channels      int
	SampleFormat  SampleFormat
	ChannelLayout uint64
	Codec         string
}

// CodecParams carries what a decoder needs to configure itself.
type CodecParams struct {
	Stream      StreamInfo
	ThreadCount int
}

// HwConfig is one hardware acceleration configuration supported by a
// decoder implementation.
type HwConfig struct {
	DeviceType string
	PixFmt     PixelFormat
}

// HwPixelFormatChooser picks the pixel format to use from the
// candidates offered by the decoder, or reports none is acceptable.
type HwPixelFormatChooser func(candidates []PixelFormat) (PixelFormat, bool)

// DecoderConfig configures a video decoder. HwDeviceType empty means
// software decoding.
type DecoderConfig struct {
	Params       CodecParams
	HwDeviceType string
	ChooseHwPix  HwPixelFormatChooser
}

// AudioFormat is the triple a resampler converts between.
type AudioFormat struct {
	SampleRate    int
	Channels      int
	ChannelLayout uint64
	SampleFormat  SampleFormat
}

func (a AudioFormat) Equal(b AudioFormat) bool {
	return a.SampleRate == b.SampleRate &&
		a.Channels == b.Channels &&
		a.ChannelLayout == b.ChannelLayout &&
		a.SampleFormat == b.SampleFormat
}

// DefaultChannelLayout returns a synthetic layout mask for the given
// channel count.
func DefaultChannelLayout(channels int) uint64 {
	if channels <= 0 {
		return 0
	}
	return uint64(1)<<uint(channels) - 1
}

// Packet is one demuxed packet. Pts is expressed in the originating
// stream's timebase.
type Packet struct {
	StreamIndex int
	Pts         int64
	Duration    int64
	KeyFrame    bool
	Data        []byte
}

// Frame is one decoded video frame or audio frame. Pts is expressed
// in the originating stream's timebase. Video frames carry pixel data
// in Data as float32 planes; audio frames carry interleaved samples.
type Frame struct {
	Pts      int64
	TimeBase timebase.Ratio

	// video
	Width      int
	Height     int
	PixFmt     PixelFormat
	PictType   PictureType
	Interlaced bool
	ColorSpace ColorSpace
	ColorRange ColorRange
	Depth      int

	// audio
	SampleCount   int
	SampleRate    int
	Channels      int
	SampleFormat  SampleFormat
	ChannelLayout uint64

	Data []float32
}

// PtsMillisec returns the frame's presentation time in the engine's
// millisecond domain.
func (f *Frame) PtsMillisec() int64 {
	return timebase.Rescale(f.Pts, f.TimeBase, timebase.Millisec)
}

// AudioFormatOf returns the audio format triple of an audio frame.
func (f *Frame) AudioFormatOf() AudioFormat {
	return AudioFormat{
		SampleRate:    f.SampleRate,
		Channels:      f.Channels,
		ChannelLayout: f.ChannelLayout,
		SampleFormat:  f.SampleFormat,
	}
}
