package media

import (
	"errors"
	"testing"

	"github.com/medit/medit-engine/internal/timebase"
)

func testSource() SimSource {
	return SimSource{
		URL:             "sim://clip",
		DurationMs:      2000,
		HasVideo:        true,
		FrameRate:       timebase.Ratio{Num: 25, Den: 1},
		Width:           32,
		Height:          18,
		GopSize:         10,
		HasAudio:        true,
		SampleRate:      48000,
		Channels:        2,
		SamplesPerFrame: 1024,
	}
}

func TestSimDemuxerStreams(t *testing.T) {
	b := NewSimBackend()
	b.AddSource(testSource())

	d := b.NewDemuxer()
	if err := d.Open("sim://clip"); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer d.Close()

	if len(d.Streams()) != 2 {
		t.Fatalf("Streams() = %d, want 2", len(d.Streams()))
	}
	vidIdx, err := d.FindBestStream(MediaTypeVideo)
	if err != nil || vidIdx != 0 {
		t.Errorf("FindBestStream(video) = %d, %v; want 0, nil", vidIdx, err)
	}
	audIdx, err := d.FindBestStream(MediaTypeAudio)
	if err != nil || audIdx != 1 {
		t.Errorf("FindBestStream(audio) = %d, %v; want 1, nil", audIdx, err)
	}
	if _, err := d.FindBestStream(MediaTypeSubtitle); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindBestStream(subtitle) error = %v, want ErrNotFound", err)
	}
	if d.Duration() != 2000 {
		t.Errorf("Duration() = %d, want 2000", d.Duration())
	}
}

func TestSimDemuxerPacketOrder(t *testing.T) {
	b := NewSimBackend()
	b.AddSource(testSource())

	d := b.NewDemuxer()
	if err := d.Open("sim://clip"); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer d.Close()

	var lastMs [2]int64
	lastMs[0], lastMs[1] = -1, -1
	count := 0
	for {
		pkt, err := d.ReadPacket()
		if errors.Is(err, ErrEOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadPacket() error: %v", err)
		}
		var ms int64
		if pkt.StreamIndex == 0 {
			ms = timebase.Rescale(pkt.Pts, videoTimeBase, timebase.Millisec)
		} else {
			ms = timebase.Rescale(pkt.Pts, timebase.Ratio{Num: 1, Den: 48000}, timebase.Millisec)
		}
		if ms < lastMs[pkt.StreamIndex] {
			t.Fatalf("stream %d pts went backwards: %d after %d", pkt.StreamIndex, ms, lastMs[pkt.StreamIndex])
		}
		lastMs[pkt.StreamIndex] = ms
		count++
	}
	// 50 video frames plus ceil(96000/1024) audio frames
	if count != 50+94 {
		t.Errorf("packet count = %d, want %d", count, 50+94)
	}
}

func TestSimDemuxerSeekSnapsToKeyframe(t *testing.T) {
	b := NewSimBackend()
	b.AddSource(testSource())

	d := b.NewDemuxer()
	if err := d.Open("sim://clip"); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer d.Close()

	// 25 fps, GOP 10: keyframes at 0, 400, 800, 1200, ... ms.
	target := timebase.Rescale(1200, timebase.Millisec, videoTimeBase)
	if err := d.SeekFile(0, -1<<62, target, target); err != nil {
		t.Fatalf("SeekFile() error: %v", err)
	}
	pkt := readStreamPacket(t, d, 0)
	if got := timebase.Rescale(pkt.Pts, videoTimeBase, timebase.Millisec); got != 1200 {
		t.Errorf("first packet after seek at %d ms, want 1200", got)
	}
	if !pkt.KeyFrame {
		t.Error("first packet after seek is not a keyframe")
	}

	// 1000 ms is mid-GOP; backward seek snaps to the 800 ms keyframe.
	target = timebase.Rescale(1000, timebase.Millisec, videoTimeBase)
	if err := d.SeekFile(0, -1<<62, target, target); err != nil {
		t.Fatalf("SeekFile() error: %v", err)
	}
	pkt = readStreamPacket(t, d, 0)
	if got := timebase.Rescale(pkt.Pts, videoTimeBase, timebase.Millisec); got != 800 {
		t.Errorf("mid-GOP seek landed at %d ms, want 800", got)
	}

	// Forward-bounded seek (min above the target's own keyframe)
	// advances to the next keyframe instead.
	if err := d.SeekFile(0, target+1, target+1, 1<<62); err != nil {
		t.Fatalf("SeekFile() error: %v", err)
	}
	pkt = readStreamPacket(t, d, 0)
	if got := timebase.Rescale(pkt.Pts, videoTimeBase, timebase.Millisec); got != 1200 {
		t.Errorf("forward-bounded seek landed at %d ms, want 1200", got)
	}
}

func readStreamPacket(t *testing.T, d Demuxer, streamIdx int) *Packet {
	t.Helper()
	for {
		pkt, err := d.ReadPacket()
		if err != nil {
			t.Fatalf("ReadPacket() error: %v", err)
		}
		if pkt.StreamIndex == streamIdx {
			return pkt
		}
	}
}

func TestSimDecoderRoundTrip(t *testing.T) {
	b := NewSimBackend()
	b.AddSource(testSource())

	d := b.NewDemuxer()
	if err := d.Open("sim://clip"); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer d.Close()

	dec, err := b.NewVideoDecoder(DecoderConfig{Params: CodecParams{Stream: d.Streams()[0]}})
	if err != nil {
		t.Fatalf("NewVideoDecoder() error: %v", err)
	}
	defer dec.Close()

	if _, err := dec.ReceiveFrame(); !errors.Is(err, ErrAgain) {
		t.Errorf("ReceiveFrame() before input error = %v, want ErrAgain", err)
	}

	pkt := readStreamPacket(t, d, 0)
	if err := dec.SendPacket(pkt); err != nil {
		t.Fatalf("SendPacket() error: %v", err)
	}
	frm, err := dec.ReceiveFrame()
	if err != nil {
		t.Fatalf("ReceiveFrame() error: %v", err)
	}
	if frm.Width != 32 || frm.Height != 18 {
		t.Errorf("frame size = %dx%d, want 32x18", frm.Width, frm.Height)
	}
	if frm.PictType != PictureTypeI {
		t.Errorf("first frame PictType = %v, want I", frm.PictType)
	}
	if frm.Data[0] != 0 {
		t.Errorf("frame 0 pixel value = %f, want 0", frm.Data[0])
	}

	// drain protocol
	if err := dec.SendPacket(nil); err != nil {
		t.Fatalf("SendPacket(nil) error: %v", err)
	}
	if _, err := dec.ReceiveFrame(); !errors.Is(err, ErrEOF) {
		t.Errorf("ReceiveFrame() after drain error = %v, want ErrEOF", err)
	}
}

func TestHwDecoderFallback(t *testing.T) {
	b := NewSimBackend()
	b.AddSource(testSource())

	cfg := DecoderConfig{HwDeviceType: "any"}
	if _, err := b.NewVideoDecoder(cfg); !errors.Is(err, ErrHwUnavailable) {
		t.Errorf("NewVideoDecoder(hw) error = %v, want ErrHwUnavailable", err)
	}

	b.HwDeviceType = "sim"
	dec, err := b.NewVideoDecoder(cfg)
	if err != nil {
		t.Fatalf("NewVideoDecoder(hw, supported) error: %v", err)
	}
	hwDec, ok := dec.(HwDecoder)
	if !ok || len(hwDec.SupportedHwConfigs()) == 0 {
		t.Error("hw decoder does not report hw configs")
	}
}

func TestResamplerPassThrough(t *testing.T) {
	b := NewSimBackend()
	fmt48 := AudioFormat{SampleRate: 48000, Channels: 2, ChannelLayout: 3, SampleFormat: SampleFmtFLT}

	r, err := b.NewResampler(fmt48, fmt48)
	if err != nil {
		t.Fatalf("NewResampler() error: %v", err)
	}
	if !r.PassThrough() {
		t.Fatal("equal formats did not produce a pass-through resampler")
	}

	in := &Frame{SampleCount: 4, SampleRate: 48000, Channels: 2, Data: []float32{1, 2, 3, 4, 5, 6, 7, 8}}
	out, err := r.Convert(in)
	if err != nil {
		t.Fatalf("Convert() error: %v", err)
	}
	if out != in {
		t.Error("pass-through did not forward the input frame unchanged")
	}
}

func TestResamplerConverts(t *testing.T) {
	b := NewSimBackend()
	in := AudioFormat{SampleRate: 44100, Channels: 1, ChannelLayout: 1, SampleFormat: SampleFmtFLT}
	out := AudioFormat{SampleRate: 48000, Channels: 2, ChannelLayout: 3, SampleFormat: SampleFmtFLT}

	r, err := b.NewResampler(in, out)
	if err != nil {
		t.Fatalf("NewResampler() error: %v", err)
	}
	if r.PassThrough() {
		t.Fatal("differing formats produced a pass-through resampler")
	}

	frm := &Frame{
		Pts: 44100, TimeBase: timebase.Ratio{Num: 1, Den: 44100},
		SampleCount: 441, SampleRate: 44100, Channels: 1,
		Data: make([]float32, 441),
	}
	conv, err := r.Convert(frm)
	if err != nil {
		t.Fatalf("Convert() error: %v", err)
	}
	if conv.SampleCount != 480 {
		t.Errorf("converted SampleCount = %d, want 480", conv.SampleCount)
	}
	if conv.Channels != 2 {
		t.Errorf("converted Channels = %d, want 2", conv.Channels)
	}
	if got := conv.PtsMillisec(); got != 1000 {
		t.Errorf("converted pts = %d ms, want 1000", got)
	}
}

func TestImageMatOps(t *testing.T) {
	m := NewImageMat(4, 2, 1)
	if m.Empty() {
		t.Fatal("allocated mat reports empty")
	}
	m.Set(1, 1, 0, 0.5)

	c := m.Clone()
	c.Set(1, 1, 0, 0.9)
	if m.At(1, 1, 0) != 0.5 {
		t.Error("Clone() shares pixel data with the original")
	}

	other := NewImageMat(4, 2, 1)
	other.Fill(0.7)
	MaxInto(m, other)
	if m.At(0, 0, 0) != 0.7 || m.At(1, 1, 0) != 0.7 {
		t.Error("MaxInto did not take the pixel-wise maximum")
	}

	var nilMat *ImageMat
	if !nilMat.Empty() {
		t.Error("nil mat is not empty")
	}
}
