package media

import (
	"fmt"
	"log/slog"
)

// StubBackend is wired when no codec library is linked in. Every open
// attempt fails with ErrDecoderUnavailable so callers degrade cleanly.
type StubBackend struct {
	logger *slog.Logger
}

func NewStubBackend(logger *slog.Logger) *StubBackend {
	return &StubBackend{logger: logger}
}

func (b *StubBackend) NewDemuxer() Demuxer {
	return &stubDemuxer{logger: b.logger}
}

func (b *StubBackend) NewVideoDecoder(cfg DecoderConfig) (Decoder, error) {
	return nil, ErrDecoderUnavailable
}

func (b *StubBackend) NewAudioDecoder(params CodecParams) (Decoder, error) {
	return nil, ErrDecoderUnavailable
}

func (b *StubBackend) NewResampler(in, out AudioFormat) (Resampler, error) {
	return nil, ErrDecoderUnavailable
}

func (b *StubBackend) NewFrameConverter() FrameConverter {
	return &simFrameConverter{}
}

type stubDemuxer struct {
	logger *slog.Logger
}

func (d *stubDemuxer) Open(url string) error {
	if d.logger != nil {
		d.logger.Info("media stub: open requested (no codec backend linked)", "url", url)
	}
	return fmt.Errorf("open %q: %w", url, ErrDecoderUnavailable)
}

func (d *stubDemuxer) Streams() []StreamInfo                           { return nil }
func (d *stubDemuxer) FindBestStream(mt MediaType) (int, error)        { return -1, ErrNotFound }
func (d *stubDemuxer) ReadPacket() (*Packet, error)                    { return nil, ErrEOF }
func (d *stubDemuxer) SeekFile(streamIdx int, min, target, max int64) error { return ErrNotOpened }
func (d *stubDemuxer) Duration() int64                                 { return 0 }
func (d *stubDemuxer) StartTime() int64                                { return 0 }
func (d *stubDemuxer) Close() error                                    { return nil }
