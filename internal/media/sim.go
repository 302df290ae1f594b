package media

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/medit/medit-engine/internal/timebase"
)

// SimSource describes one synthetic media file served by SimBackend.
// Video frames are generated as single-channel mats whose pixels all
// carry the frame index, so tests can assert which frame was decoded.
type SimSource struct {
	URL        string
	DurationMs int64

	HasVideo  bool
	FrameRate timebase.Ratio
	Width     int
	Height    int
	// GopSize is the keyframe interval in frames.
	GopSize int

	HasAudio        bool
	SampleRate      int
	Channels        int
	SamplesPerFrame int
}

func (s SimSource) videoFrames() int64 {
	if !s.HasVideo || !s.FrameRate.Valid() {
		return 0
	}
	return s.DurationMs * s.FrameRate.Num / (s.FrameRate.Den * 1000)
}

func (s SimSource) audioFrames() int64 {
	if !s.HasAudio || s.SampleRate <= 0 || s.SamplesPerFrame <= 0 {
		return 0
	}
	totalSamples := s.DurationMs * int64(s.SampleRate) / 1000
	return (totalSamples + int64(s.SamplesPerFrame) - 1) / int64(s.SamplesPerFrame)
}

// SimBackend is an in-memory Backend generating timed packets and
// frames without any codec library. It exists so the pipeline, player
// and overview code paths can be exercised end to end.
type SimBackend struct {
	mu      sync.Mutex
	sources map[string]SimSource

	// HwDeviceType, when non-empty, makes NewVideoDecoder accept
	// hardware configs for that device and emit device-memory frames.
	HwDeviceType string

	// SeekCount counts demuxer-level seeks across all demuxers; tests
	// use it to verify seek suppression during scrubbing.
	SeekCount atomic.Int64
}

func NewSimBackend() *SimBackend {
	return &SimBackend{sources: make(map[string]SimSource)}
}

func (b *SimBackend) AddSource(src SimSource) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if src.GopSize <= 0 {
		src.GopSize = 1
	}
	if src.SamplesPerFrame <= 0 {
		src.SamplesPerFrame = 1024
	}
	b.sources[src.URL] = src
}

func (b *SimBackend) lookup(url string) (SimSource, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	src, ok := b.sources[url]
	return src, ok
}

func (b *SimBackend) NewDemuxer() Demuxer {
	return &simDemuxer{backend: b}
}

func (b *SimBackend) NewVideoDecoder(cfg DecoderConfig) (Decoder, error) {
	hw := false
	if cfg.HwDeviceType != "" {
		if b.HwDeviceType == "" || (cfg.HwDeviceType != "any" && cfg.HwDeviceType != b.HwDeviceType) {
			return nil, fmt.Errorf("device type %q: %w", cfg.HwDeviceType, ErrHwUnavailable)
		}
		if cfg.ChooseHwPix != nil {
			if _, ok := cfg.ChooseHwPix([]PixelFormat{PixFmtHwSurface}); !ok {
				return nil, fmt.Errorf("no acceptable hw pixel format: %w", ErrHwUnavailable)
			}
		}
		hw = true
	}
	return &simDecoder{stream: cfg.Params.Stream, video: true, hw: hw}, nil
}

func (b *SimBackend) NewAudioDecoder(params CodecParams) (Decoder, error) {
	return &simDecoder{stream: params.Stream}, nil
}

func (b *SimBackend) NewResampler(in, out AudioFormat) (Resampler, error) {
	return &simResampler{in: in, out: out, passThrough: in.Equal(out)}, nil
}

func (b *SimBackend) NewFrameConverter() FrameConverter {
	return &simFrameConverter{}
}

var videoTimeBase = timebase.Ratio{Num: 1, Den: 90000}

type simDemuxer struct {
	backend *SimBackend
	src     SimSource
	opened  bool
	streams []StreamInfo
	vidIdx  int
	audIdx  int

	nextVidFrame int64
	nextAudFrame int64
}

func (d *simDemuxer) Open(url string) error {
	src, ok := d.backend.lookup(url)
	if !ok {
		return fmt.Errorf("open %q: %w", url, ErrNotFound)
	}
	d.src = src
	d.vidIdx = -1
	d.audIdx = -1
	d.streams = nil
	if src.HasVideo {
		d.vidIdx = len(d.streams)
		d.streams = append(d.streams, StreamInfo{
			Index:        d.vidIdx,
			Type:         MediaTypeVideo,
			TimeBase:     videoTimeBase,
			DurationPts:  timebase.Rescale(src.DurationMs, timebase.Millisec, videoTimeBase),
			AvgFrameRate: src.FrameRate,
			Width:        src.Width,
			Height:       src.Height,
			Codec:        "simv",
		})
	}
	if src.HasAudio {
		audTb := timebase.Ratio{Num: 1, Den: int64(src.SampleRate)}
		d.audIdx = len(d.streams)
		d.streams = append(d.streams, StreamInfo{
			Index:         d.audIdx,
			Type:          MediaTypeAudio,
			TimeBase:      audTb,
			DurationPts:   timebase.Rescale(src.DurationMs, timebase.Millisec, audTb),
			SampleRate:    src.SampleRate,
			Channels:      src.Channels,
			SampleFormat:  SampleFmtFLT,
			ChannelLayout: DefaultChannelLayout(src.Channels),
			Codec:         "sima",
		})
	}
	d.nextVidFrame = 0
	d.nextAudFrame = 0
	d.opened = true
	return nil
}

func (d *simDemuxer) Streams() []StreamInfo {
	return d.streams
}

func (d *simDemuxer) FindBestStream(mt MediaType) (int, error) {
	for _, s := range d.streams {
		if s.Type == mt {
			return s.Index, nil
		}
	}
	return -1, ErrNotFound
}

func (d *simDemuxer) vidFramePtsMs(idx int64) int64 {
	return timebase.FramePos(idx, d.src.FrameRate)
}

func (d *simDemuxer) audFramePtsMs(idx int64) int64 {
	return idx * int64(d.src.SamplesPerFrame) * 1000 / int64(d.src.SampleRate)
}

// ReadPacket interleaves video and audio packets in presentation
// order, the way a real container would.
func (d *simDemuxer) ReadPacket() (*Packet, error) {
	if !d.opened {
		return nil, ErrNotOpened
	}
	vidAvail := d.vidIdx >= 0 && d.nextVidFrame < d.src.videoFrames()
	audAvail := d.audIdx >= 0 && d.nextAudFrame < d.src.audioFrames()
	if !vidAvail && !audAvail {
		return nil, ErrEOF
	}

	pickVideo := vidAvail
	if vidAvail && audAvail {
		pickVideo = d.vidFramePtsMs(d.nextVidFrame) <= d.audFramePtsMs(d.nextAudFrame)
	}

	var pkt *Packet
	if pickVideo {
		idx := d.nextVidFrame
		d.nextVidFrame++
		pkt = &Packet{
			StreamIndex: d.vidIdx,
			Pts:         timebase.Rescale(d.vidFramePtsMs(idx), timebase.Millisec, videoTimeBase),
			KeyFrame:    idx%int64(d.src.GopSize) == 0,
			Data:        encodeFrameIndex(idx),
		}
	} else {
		idx := d.nextAudFrame
		d.nextAudFrame++
		pkt = &Packet{
			StreamIndex: d.audIdx,
			Pts:         idx * int64(d.src.SamplesPerFrame),
			Duration:    int64(d.src.SamplesPerFrame),
			KeyFrame:    true,
			Data:        encodeFrameIndex(idx),
		}
	}
	return pkt, nil
}

func (d *simDemuxer) SeekFile(streamIdx int, min, target, max int64) error {
	if !d.opened {
		return ErrNotOpened
	}
	d.backend.SeekCount.Add(1)

	var targetMs int64
	switch {
	case streamIdx < 0:
		targetMs = target / 1000
	case streamIdx == d.vidIdx:
		targetMs = timebase.Rescale(target, videoTimeBase, timebase.Millisec)
	case streamIdx == d.audIdx:
		targetMs = timebase.Rescale(target, d.streams[d.audIdx].TimeBase, timebase.Millisec)
	default:
		return fmt.Errorf("stream %d: %w", streamIdx, ErrNotFound)
	}
	if targetMs < 0 {
		targetMs = 0
	}
	if targetMs > d.src.DurationMs {
		targetMs = d.src.DurationMs
	}

	if d.vidIdx >= 0 {
		frame := timebase.FrameIndex(targetMs, d.src.FrameRate)
		gop := int64(d.src.GopSize)
		kf := frame / gop * gop
		// honor the lower bound of the seek window: when min excludes
		// the prior keyframe, advance to the next one
		if streamIdx == d.vidIdx && min > timebase.Rescale(d.vidFramePtsMs(kf), timebase.Millisec, videoTimeBase) {
			kf += gop
		}
		d.nextVidFrame = kf
		targetMs = d.vidFramePtsMs(kf)
	}
	if d.audIdx >= 0 {
		samples := targetMs * int64(d.src.SampleRate) / 1000
		d.nextAudFrame = samples / int64(d.src.SamplesPerFrame)
	}
	return nil
}

func (d *simDemuxer) Duration() int64 {
	return d.src.DurationMs
}

func (d *simDemuxer) StartTime() int64 {
	return 0
}

func (d *simDemuxer) Close() error {
	d.opened = false
	return nil
}

func encodeFrameIndex(idx int64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(idx))
	return buf
}

func decodeFrameIndex(data []byte) int64 {
	if len(data) < 8 {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(data))
}

const simDecoderPendingMax = 8

type simDecoder struct {
	mu      sync.Mutex
	stream  StreamInfo
	video   bool
	hw      bool
	pending []*Packet
	drain   bool
}

func (d *simDecoder) SendPacket(pkt *Packet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pkt == nil {
		d.drain = true
		return nil
	}
	if len(d.pending) >= simDecoderPendingMax {
		return ErrAgain
	}
	d.pending = append(d.pending, pkt)
	return nil
}

func (d *simDecoder) ReceiveFrame() (*Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		if d.drain {
			return nil, ErrEOF
		}
		return nil, ErrAgain
	}
	pkt := d.pending[0]
	d.pending = d.pending[1:]

	idx := decodeFrameIndex(pkt.Data)
	if d.video {
		frm := &Frame{
			Pts:        pkt.Pts,
			TimeBase:   d.stream.TimeBase,
			Width:      d.stream.Width,
			Height:     d.stream.Height,
			PixFmt:     PixFmtYUV420P,
			PictType:   PictureTypeP,
			ColorSpace: ColorSpaceBT709,
			ColorRange: ColorRangeNarrow,
			Depth:      8,
			Data:       make([]float32, d.stream.Width*d.stream.Height),
		}
		if pkt.KeyFrame {
			frm.PictType = PictureTypeI
		}
		if d.hw {
			frm.PixFmt = PixFmtHwSurface
		}
		for i := range frm.Data {
			frm.Data[i] = float32(idx)
		}
		return frm, nil
	}

	samples := int(pkt.Duration)
	if samples <= 0 {
		samples = d.stream.SampleRate / 100
	}
	frm := &Frame{
		Pts:           pkt.Pts,
		TimeBase:      d.stream.TimeBase,
		SampleCount:   samples,
		SampleRate:    d.stream.SampleRate,
		Channels:      d.stream.Channels,
		SampleFormat:  SampleFmtFLT,
		ChannelLayout: d.stream.ChannelLayout,
		Data:          make([]float32, samples*d.stream.Channels),
	}
	phase := float64(idx)
	for i := range frm.Data {
		frm.Data[i] = float32(math.Sin(phase + float64(i)*0.01))
	}
	return frm, nil
}

func (d *simDecoder) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = nil
	d.drain = false
}

func (d *simDecoder) Close() error {
	d.Flush()
	return nil
}

func (d *simDecoder) SupportedHwConfigs() []HwConfig {
	if !d.hw {
		return nil
	}
	return []HwConfig{{DeviceType: "sim", PixFmt: PixFmtHwSurface}}
}

type simResampler struct {
	in          AudioFormat
	out         AudioFormat
	passThrough bool
}

func (r *simResampler) PassThrough() bool {
	return r.passThrough
}

func (r *simResampler) Convert(in *Frame) (*Frame, error) {
	if r.passThrough {
		return in, nil
	}
	outSamples := in.SampleCount
	if r.in.SampleRate != r.out.SampleRate && r.in.SampleRate > 0 {
		outSamples = in.SampleCount * r.out.SampleRate / r.in.SampleRate
	}
	outTb := timebase.Ratio{Num: 1, Den: int64(r.out.SampleRate)}
	out := &Frame{
		Pts:           timebase.Rescale(in.Pts, in.TimeBase, outTb),
		TimeBase:      outTb,
		SampleCount:   outSamples,
		SampleRate:    r.out.SampleRate,
		Channels:      r.out.Channels,
		SampleFormat:  r.out.SampleFormat,
		ChannelLayout: r.out.ChannelLayout,
		Data:          make([]float32, outSamples*r.out.Channels),
	}
	for i := 0; i < outSamples; i++ {
		srcIdx := i * in.SampleCount / outSamples
		for c := 0; c < r.out.Channels; c++ {
			srcC := c
			if srcC >= in.Channels {
				srcC = in.Channels - 1
			}
			out.Data[i*r.out.Channels+c] = in.Data[srcIdx*in.Channels+srcC]
		}
	}
	return out, nil
}

func (r *simResampler) Close() error {
	return nil
}

type simFrameConverter struct {
	outW, outH int
	colorFmt   ColorFormat
	interp     InterpolationMode
}

func (c *simFrameConverter) SetOutSize(w, h int) {
	c.outW, c.outH = w, h
}

func (c *simFrameConverter) SetOutColorFormat(cf ColorFormat) {
	c.colorFmt = cf
}

func (c *simFrameConverter) SetResizeInterpolation(mode InterpolationMode) {
	c.interp = mode
}

func (c *simFrameConverter) Convert(frm *Frame, timestamp float64) (*ImageMat, error) {
	if frm == nil || frm.Width <= 0 || frm.Height <= 0 {
		return nil, ErrInvalidArgument
	}
	w, h := c.outW, c.outH
	if w <= 0 || h <= 0 {
		w, h = frm.Width, frm.Height
	}
	mat := NewImageMat(w, h, 1)
	for y := 0; y < h; y++ {
		sy := y * frm.Height / h
		for x := 0; x < w; x++ {
			sx := x * frm.Width / w
			mat.Set(x, y, 0, frm.Data[sy*frm.Width+sx])
		}
	}
	mat.ColorSpace = frm.ColorSpace
	mat.ColorRange = frm.ColorRange
	mat.ColorFormat = c.colorFmt
	mat.Depth = frm.Depth
	mat.Flags = MatFlagVideoFrame
	switch frm.PictType {
	case PictureTypeI:
		mat.Flags |= MatFlagFrameI
	case PictureTypeP:
		mat.Flags |= MatFlagFrameP
	case PictureTypeB:
		mat.Flags |= MatFlagFrameB
	}
	if frm.Interlaced {
		mat.Flags |= MatFlagInterlaced
	}
	mat.Timestamp = timestamp
	return mat, nil
}

// SimAudioRender emulates an audio device: once resumed it pulls PCM
// from the byte stream at the real-time rate, which drives the
// player's audio clock the way a hardware callback would.
type SimAudioRender struct {
	mu         sync.Mutex
	sampleRate int
	channels   int
	format     PcmFormat
	bs         ByteStream
	opened     bool
	running    bool
	stopCh     chan struct{}
	doneCh     chan struct{}
}

func (r *SimAudioRender) OpenDevice(sampleRate, channels int, format PcmFormat, bs ByteStream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sampleRate <= 0 || channels <= 0 || bs == nil {
		return ErrInvalidArgument
	}
	r.sampleRate = sampleRate
	r.channels = channels
	r.format = format
	r.bs = bs
	r.opened = true
	return nil
}

func (r *SimAudioRender) bytesPerSecond() int {
	bytesPerSample := 2
	if r.format == PcmFormatFloat32 {
		bytesPerSample = 4
	}
	return r.sampleRate * r.channels * bytesPerSample
}

func (r *SimAudioRender) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.opened || r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.pullLoop(r.stopCh, r.doneCh)
}

func (r *SimAudioRender) pullLoop(stop, done chan struct{}) {
	defer close(done)
	const tick = 10 * time.Millisecond
	chunk := r.bytesPerSecond() / 100
	buf := make([]byte, chunk)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.bs.Read(buf, false)
		}
	}
}

// Pause stops the pull loop and waits for any in-flight read.
func (r *SimAudioRender) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		close(r.stopCh)
		<-r.doneCh
		r.running = false
	}
}

func (r *SimAudioRender) Flush() {}

func (r *SimAudioRender) CloseDevice() {
	r.Pause()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = false
}
