package media

// Demuxer reads packets from a seekable media input. Implementations
// are not safe for concurrent use; the pipeline gives each demuxer a
// single owning goroutine.
type Demuxer interface {
	Open(url string) error
	Streams() []StreamInfo
	// FindBestStream returns the index of the preferred stream of the
	// given type, or ErrNotFound.
	FindBestStream(mt MediaType) (int, error)
	// ReadPacket returns the next packet in demux order, or ErrEOF.
	ReadPacket() (*Packet, error)
	// SeekFile positions the demuxer so that the next packet of stream
	// streamIdx has the maximal pts ≤ target within [min, max], pts in
	// the stream's timebase. streamIdx < 0 addresses the whole file
	// with pts in microsecond units.
	SeekFile(streamIdx int, min, target, max int64) error
	// Duration returns the total duration in milliseconds.
	Duration() int64
	// StartTime returns the first pts in milliseconds.
	StartTime() int64
	Close() error
}

// Decoder turns packets into frames, send/receive style. SendPacket
// with a nil packet signals a drain; after that ReceiveFrame returns
// remaining frames and finally ErrEOF.
type Decoder interface {
	SendPacket(pkt *Packet) error
	ReceiveFrame() (*Frame, error)
	Flush()
	Close() error
}

// HwDecoder additionally exposes the hardware configurations the
// decoder supports.
type HwDecoder interface {
	Decoder
	SupportedHwConfigs() []HwConfig
}

// Resampler converts audio frames between formats. When the input
// format equals the output format the resampler passes frames through
// untouched.
type Resampler interface {
	PassThrough() bool
	Convert(in *Frame) (*Frame, error)
	Close() error
}

// FrameConverter converts decoded frames into ImageMats, applying
// optional resize and color-format conversion.
type FrameConverter interface {
	SetOutSize(w, h int)
	SetOutColorFormat(cf ColorFormat)
	SetResizeInterpolation(mode InterpolationMode)
	Convert(frm *Frame, timestamp float64) (*ImageMat, error)
}

// ByteStream is the pull callback the audio render device drains PCM
// from. Read fills buf and returns the number of bytes produced; with
// blocking false it may return short on an empty pipeline.
type ByteStream interface {
	Read(buf []byte, blocking bool) int
}

// AudioRender is the playback device. The device pulls PCM through
// the ByteStream handed to OpenDevice.
type AudioRender interface {
	OpenDevice(sampleRate, channels int, format PcmFormat, bs ByteStream) error
	Resume()
	Pause()
	Flush()
	CloseDevice()
}

// Backend bundles the collaborator factories the engine needs to open
// media. It is the single injection point for a real codec library or
// the synthetic backend used in tests.
type Backend interface {
	NewDemuxer() Demuxer
	// NewVideoDecoder returns ErrHwUnavailable when cfg requests a
	// hardware device the implementation cannot provide; the caller
	// falls back to software decoding.
	NewVideoDecoder(cfg DecoderConfig) (Decoder, error)
	NewAudioDecoder(params CodecParams) (Decoder, error)
	// NewResampler returns a pass-through resampler when in equals out.
	NewResampler(in, out AudioFormat) (Resampler, error)
	NewFrameConverter() FrameConverter
}
