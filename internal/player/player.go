// Package player implements the preview/playback controller: a staged
// demux → decode → resample → render pipeline over bounded queues,
// with synchronized audio/video output, synchronous seek and
// asynchronous scrub.
package player

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/medit/medit-engine/internal/media"
	"github.com/medit/medit-engine/internal/queue"
	"github.com/medit/medit-engine/internal/timebase"
)

// PlayMode selects which streams an Open call binds.
type PlayMode int

const (
	PlayModeNormal PlayMode = iota
	PlayModeVideoOnly
	PlayModeAudioOnly
)

const (
	vidFrmQMaxSize    = 4
	audFrmQMaxInit    = 5
	swrFrmQMaxInit    = 24
	audPktQMaxSize    = 64
	vidPktQDuration   = 2.0 // seconds of video packets
	audQDuration      = 0.5 // seconds of resampled audio
	audFrmAvgDurInit  = 0.021
	audFrmAvgDurCount = 10

	pipelineSleep = 5 * time.Millisecond
	renderSleep   = 1 * time.Millisecond
)

// asyncSeekUnset marks "no scrub target yet".
const asyncSeekUnset = math.MinInt64

// Player is the playback controller. Public methods serialize on the
// control lock; the pipeline goroutines never take it.
type Player struct {
	logger  *slog.Logger
	backend media.Backend

	mu sync.Mutex

	demux     media.Demuxer
	vidStmIdx int
	audStmIdx int
	vidStream media.StreamInfo
	audStream media.StreamInfo
	viddec    media.Decoder
	auddec    media.Decoder
	resampler media.Resampler
	conv      media.FrameConverter

	audrnd     media.AudioRender
	byteStream *audioByteStream

	playMode PlayMode
	preferHw bool

	swrOutFormat media.AudioFormat

	vidpktQ *queue.Bounded[*media.Packet]
	audpktQ *queue.Bounded[*media.Packet]
	vidfrmQ *queue.Bounded[*media.Frame]
	audfrmQ *queue.Bounded[*media.Frame]
	swrfrmQ *queue.Bounded[*media.Frame]

	quit           atomic.Bool
	wg             sync.WaitGroup
	threadsRunning bool
	useAudioClock  bool

	demuxEof  atomic.Bool
	viddecEof atomic.Bool
	auddecEof atomic.Bool
	swrEof    atomic.Bool
	renderEof atomic.Bool

	playing           atomic.Bool
	seeking           bool
	playingBeforeSeek bool

	afterSeek atomic.Bool
	seekToI   atomic.Bool
	seekToMts atomic.Int64

	asyncSeekPos atomic.Int64

	playPos     atomic.Int64
	posOffset   atomic.Int64
	pausedDur   atomic.Int64
	audioMts    atomic.Int64
	audioOffset atomic.Int64
	audFrmAvgNs atomic.Int64

	// runStart/pauseStart as unix nanos, 0 = unset
	runStart   atomic.Int64
	pauseStart atomic.Int64

	currentVideo atomic.Pointer[media.ImageMat]

	scrubCacheLen atomic.Int32

	// lastErr has its own lock so pipeline goroutines can record
	// fatal errors without touching the control lock
	errMu   sync.Mutex
	lastErr string
}

// New creates a player over the given media backend.
func New(backend media.Backend, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Player{
		logger:   logger,
		backend:  backend,
		preferHw: true,
	}
	p.asyncSeekPos.Store(asyncSeekUnset)
	p.audFrmAvgNs.Store(int64(audFrmAvgDurInit * float64(time.Second)))
	return p
}

// Err returns the player's last error message.
func (p *Player) Err() string {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.lastErr
}

func (p *Player) setErr(err error) {
	if err == nil {
		return
	}
	p.errMu.Lock()
	p.lastErr = err.Error()
	p.errMu.Unlock()
}

// recordFatal notes a pipeline protocol violation from a worker
// goroutine.
func (p *Player) recordFatal(stage string, err error) {
	p.setErr(fmt.Errorf("%s: %w: %v", stage, ErrFatal, err))
	p.logger.Error("pipeline stage failed", "stage", stage, "error", err)
}

// SetAudioRender wires the audio output device. Rejected while the
// player is playing.
func (p *Player) SetAudioRender(r media.AudioRender) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing.Load() {
		err := fmt.Errorf("cannot set audio render while playing: %w", ErrInvalidState)
		p.setErr(err)
		return err
	}
	p.audrnd = r
	return nil
}

// SetPlayMode selects the streams bound at the next Open. Only
// allowed while closed.
func (p *Player) SetPlayMode(mode PlayMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.demux != nil {
		err := fmt.Errorf("cannot change play mode while media is opened: %w", ErrInvalidState)
		p.setErr(err)
		return err
	}
	p.playMode = mode
	return nil
}

func (p *Player) SetPreferHwDecoder(prefer bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.preferHw = prefer
}

// Open binds the url's streams, sets up decoders (hardware first when
// preferred, with software fallback) and the resampler, and sizes the
// pipeline queues. A failed open leaves the player closed.
func (p *Player) Open(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.openMedia(url); err != nil {
		p.closeLocked()
		p.setErr(err)
		return err
	}
	return nil
}

func (p *Player) openMedia(url string) error {
	if p.demux != nil {
		p.closeLocked()
	}

	demux := p.backend.NewDemuxer()
	if err := demux.Open(url); err != nil {
		return fmt.Errorf("open media: %w", err)
	}
	p.demux = demux
	p.logger.Info("media opened", "url", url, "streams", len(demux.Streams()), "duration", timebase.MillisecToString(demux.Duration()))

	p.vidStmIdx = -1
	p.audStmIdx = -1
	if p.playMode != PlayModeAudioOnly {
		if idx, err := demux.FindBestStream(media.MediaTypeVideo); err == nil {
			p.vidStmIdx = idx
			p.vidStream = demux.Streams()[idx]
		}
	}
	if p.playMode != PlayModeVideoOnly {
		if idx, err := demux.FindBestStream(media.MediaTypeAudio); err == nil {
			p.audStmIdx = idx
			p.audStream = demux.Streams()[idx]
		}
	}
	if p.vidStmIdx < 0 && p.audStmIdx < 0 {
		return fmt.Errorf("%q: %w", url, ErrNoStream)
	}

	if p.vidStmIdx >= 0 {
		if err := p.openVideoDecoder(); err != nil {
			return err
		}
		qMaxSize := 0
		if fr := p.vidStream.AvgFrameRate; fr.Valid() {
			qMaxSize = int(vidPktQDuration * float64(fr.Num) / float64(fr.Den))
		}
		if qMaxSize < 20 {
			qMaxSize = 20
		}
		p.vidpktQ = queue.NewBounded[*media.Packet](qMaxSize)
	} else {
		p.vidpktQ = queue.NewBounded[*media.Packet](1)
	}

	// with a video stream present the video queue paces the demuxer,
	// so audio packets are not held back
	audPktCap := audPktQMaxSize
	if p.vidStmIdx >= 0 {
		audPktCap = 4096
	}
	p.audpktQ = queue.NewBounded[*media.Packet](audPktCap)
	p.vidfrmQ = queue.NewBounded[*media.Frame](vidFrmQMaxSize)
	p.audfrmQ = queue.NewBounded[*media.Frame](audFrmQMaxInit)
	p.swrfrmQ = queue.NewBounded[*media.Frame](swrFrmQMaxInit)

	if p.audStmIdx >= 0 {
		if err := p.openAudioDecoder(); err != nil {
			return err
		}
		if p.audrnd != nil {
			p.byteStream = newAudioByteStream(p)
			if err := p.audrnd.OpenDevice(p.swrOutFormat.SampleRate, p.swrOutFormat.Channels, media.PcmFormatSint16, p.byteStream); err != nil {
				return fmt.Errorf("open audio device: %w", err)
			}
		}
	}

	p.conv = p.backend.NewFrameConverter()
	return nil
}

func (p *Player) openVideoDecoder() error {
	params := media.CodecParams{Stream: p.vidStream, ThreadCount: 8}
	if p.preferHw {
		cfg := media.DecoderConfig{
			Params:       params,
			HwDeviceType: "any",
			ChooseHwPix: func(candidates []media.PixelFormat) (media.PixelFormat, bool) {
				for _, c := range candidates {
					if c == media.PixFmtHwSurface {
						return c, true
					}
				}
				return media.PixFmtNone, false
			},
		}
		dec, err := p.backend.NewVideoDecoder(cfg)
		if err == nil {
			p.viddec = dec
			p.logger.Info("video decoder opened", "codec", p.vidStream.Codec, "hw", true)
			return nil
		}
		if !errors.Is(err, media.ErrHwUnavailable) {
			return fmt.Errorf("open video decoder: %w", err)
		}
		p.logger.Info("hardware decoder unavailable, falling back to software", "codec", p.vidStream.Codec)
	}
	dec, err := p.backend.NewVideoDecoder(media.DecoderConfig{Params: params})
	if err != nil {
		return fmt.Errorf("open video decoder: %w", err)
	}
	p.viddec = dec
	p.logger.Info("video decoder opened", "codec", p.vidStream.Codec, "hw", false)
	return nil
}

func (p *Player) openAudioDecoder() error {
	dec, err := p.backend.NewAudioDecoder(media.CodecParams{Stream: p.audStream})
	if err != nil {
		return fmt.Errorf("open audio decoder: %w", err)
	}
	p.auddec = dec

	inFmt := media.AudioFormat{
		SampleRate:    p.audStream.SampleRate,
		Channels:      p.audStream.Channels,
		ChannelLayout: p.audStream.ChannelLayout,
		SampleFormat:  p.audStream.SampleFormat,
	}
	if inFmt.ChannelLayout == 0 {
		inFmt.ChannelLayout = media.DefaultChannelLayout(inFmt.Channels)
	}
	outCh := inFmt.Channels
	if outCh > 2 {
		outCh = 2
	}
	p.swrOutFormat = media.AudioFormat{
		SampleRate:    inFmt.SampleRate,
		Channels:      outCh,
		ChannelLayout: media.DefaultChannelLayout(outCh),
		SampleFormat:  media.SampleFmtS16,
	}
	p.resampler, err = p.backend.NewResampler(inFmt, p.swrOutFormat)
	if err != nil {
		return fmt.Errorf("open resampler: %w", err)
	}
	p.logger.Info("audio decoder opened", "codec", p.audStream.Codec, "pass_through", p.resampler.PassThrough())
	return nil
}

// Close stops all pipeline goroutines, flushes the queues and
// releases the media.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

func (p *Player) closeLocked() {
	p.waitAllThreadsQuit()
	p.flushAllQueues()

	if p.audrnd != nil {
		p.audrnd.CloseDevice()
	}
	if p.byteStream != nil {
		p.byteStream.reset()
		p.byteStream = nil
	}
	if p.resampler != nil {
		p.resampler.Close()
		p.resampler = nil
	}
	if p.auddec != nil {
		p.auddec.Close()
		p.auddec = nil
	}
	if p.viddec != nil {
		p.viddec.Close()
		p.viddec = nil
	}
	if p.demux != nil {
		p.demux.Close()
		p.demux = nil
	}
	p.vidStmIdx = -1
	p.audStmIdx = -1

	p.resetEofFlags()
	p.seeking = false
	p.afterSeek.Store(false)
	p.seekToI.Store(false)
	p.seekToMts.Store(0)
	p.asyncSeekPos.Store(asyncSeekUnset)

	p.runStart.Store(0)
	p.pauseStart.Store(0)
	p.playPos.Store(0)
	p.posOffset.Store(0)
	p.pausedDur.Store(0)
	p.audioMts.Store(0)
	p.audioOffset.Store(0)
	p.audFrmAvgNs.Store(int64(audFrmAvgDurInit * float64(time.Second)))
	p.currentVideo.Store(nil)
	p.scrubCacheLen.Store(0)
	p.errMu.Lock()
	p.lastErr = ""
	p.errMu.Unlock()
}

func (p *Player) resetEofFlags() {
	p.demuxEof.Store(false)
	p.viddecEof.Store(false)
	p.auddecEof.Store(false)
	p.swrEof.Store(false)
	p.renderEof.Store(false)
}

// Play starts (or resumes) playback. Repeated calls are no-ops. At
// end of media the player is reset to the start first.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing.Load() {
		return nil
	}
	if p.demux == nil {
		p.setErr(ErrNotOpened)
		return ErrNotOpened
	}
	if p.vidStmIdx < 0 && p.audStmIdx < 0 {
		p.setErr(ErrNoStream)
		return ErrNoStream
	}

	if p.renderEof.Load() {
		if err := p.resetLocked(); err != nil {
			return err
		}
	}

	if p.audStmIdx < 0 || p.audrnd == nil {
		now := time.Now().UnixNano()
		if p.runStart.Load() == 0 {
			p.runStart.Store(now)
		}
		if ps := p.pauseStart.Load(); ps != 0 {
			p.pausedDur.Add((now - ps) / int64(time.Millisecond))
			p.pauseStart.Store(0)
		}
	}

	if !p.threadsRunning {
		p.startAllThreads()
	}
	if p.audrnd != nil {
		p.audrnd.Resume()
	}
	p.playing.Store(true)
	return nil
}

// Pause suspends output. Pipeline goroutines keep producing until the
// queues fill.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.demux == nil {
		p.setErr(ErrNotOpened)
		return ErrNotOpened
	}
	if p.audrnd != nil {
		p.audrnd.Pause()
	}
	if p.audStmIdx < 0 || p.audrnd == nil {
		p.pauseStart.Store(time.Now().UnixNano())
	}
	p.playing.Store(false)
	return nil
}

// Reset rewinds to the start of the media with the pipeline stopped
// and all queues and decoders flushed.
func (p *Player) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.demux == nil {
		p.setErr(ErrNotOpened)
		return ErrNotOpened
	}
	return p.resetLocked()
}

func (p *Player) resetLocked() error {
	if p.audrnd != nil {
		p.audrnd.Pause()
	}
	p.waitAllThreadsQuit()
	p.flushAllQueues()
	p.flushDecodersAndRender()

	p.resetEofFlags()
	p.runStart.Store(0)
	p.pauseStart.Store(0)
	p.playPos.Store(0)
	p.posOffset.Store(0)
	p.pausedDur.Store(0)
	p.audioMts.Store(0)
	p.audioOffset.Store(0)

	if err := p.demux.SeekFile(-1, math.MinInt64, p.demux.StartTime()*1000, p.demux.StartTime()*1000); err != nil {
		err = fmt.Errorf("rewind: %w", err)
		p.setErr(err)
		return err
	}
	return nil
}

func (p *Player) flushDecodersAndRender() {
	if p.audrnd != nil {
		p.audrnd.Flush()
	}
	if p.byteStream != nil {
		p.byteStream.reset()
	}
	if p.viddec != nil {
		p.viddec.Flush()
	}
	if p.auddec != nil {
		p.auddec.Flush()
	}
}

// Seek performs a synchronous seek: the pipeline is stopped and
// flushed, the demuxer repositioned, and decode resumes dropping
// frames before pos. With seekToI the first decoded frame (the
// nearest prior keyframe) becomes the effective position instead.
func (p *Player) Seek(pos int64, seekToI bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.demux == nil {
		p.setErr(ErrNotOpened)
		return ErrNotOpened
	}

	wasPlaying := p.playing.Load()

	if p.audrnd != nil {
		p.audrnd.Pause()
	}
	p.waitAllThreadsQuit()
	p.flushAllQueues()
	p.flushDecodersAndRender()

	p.resetEofFlags()
	p.pauseStart.Store(0)

	if err := p.demux.SeekFile(-1, math.MinInt64, pos*1000, pos*1000); err != nil {
		err = fmt.Errorf("seek to %s: %w", timebase.MillisecToString(pos), err)
		p.setErr(err)
		return err
	}
	p.logger.Debug("seek", "pos", timebase.MillisecToString(pos), "seek_to_i", seekToI)

	p.seekToI.Store(seekToI)
	p.seekToMts.Store(pos)
	p.afterSeek.Store(true)

	if wasPlaying {
		p.startAllThreads()
		if p.audrnd != nil {
			p.audrnd.Resume()
		}
		p.playing.Store(true)
	}
	return nil
}

// SeekAsync enters scrub mode on the first call (switching the
// pipeline to the scrub goroutines) and only updates the atomic
// target afterwards.
func (p *Player) SeekAsync(pos int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.demux == nil {
		p.setErr(ErrNotOpened)
		return ErrNotOpened
	}

	if !p.seeking {
		p.playingBeforeSeek = p.playing.Load()

		if p.audrnd != nil {
			p.audrnd.Pause()
		}
		p.waitAllThreadsQuit()
		p.flushAllQueues()
		p.flushDecodersAndRender()

		p.resetEofFlags()
		p.pauseStart.Store(0)
		p.asyncSeekPos.Store(asyncSeekUnset)

		p.startAllThreadsSeekAsync()
		p.seeking = true
	}

	p.asyncSeekPos.Store(pos)
	p.logger.Debug("seek async", "pos", timebase.MillisecToString(pos))
	return nil
}

// QuitSeekAsync leaves scrub mode, committing the last scrub target
// with a final synchronous seek, and resumes playback if the player
// was playing when scrubbing began.
func (p *Player) QuitSeekAsync() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.demux == nil {
		p.setErr(ErrNotOpened)
		return ErrNotOpened
	}
	if !p.seeking {
		return nil
	}

	p.waitAllThreadsQuit()
	p.flushAllQueues()
	if p.viddec != nil {
		p.viddec.Flush()
	}

	p.resetEofFlags()
	p.pauseStart.Store(0)

	currSeekPos := p.asyncSeekPos.Load()
	var target int64
	if currSeekPos == asyncSeekUnset {
		currSeekPos = p.demux.StartTime()
		target = p.demux.StartTime() * 1000
	} else {
		target = currSeekPos * 1000
	}
	if err := p.demux.SeekFile(-1, math.MinInt64, target, target); err != nil {
		err = fmt.Errorf("seek after scrub: %w", err)
		p.setErr(err)
		return err
	}
	p.logger.Debug("seek after scrub", "pos", timebase.MillisecToString(currSeekPos))

	p.seekToI.Store(false)
	p.seekToMts.Store(currSeekPos)
	p.afterSeek.Store(true)

	if p.playingBeforeSeek {
		p.startAllThreads()
		if p.audrnd != nil {
			p.audrnd.Resume()
		}
		p.playing.Store(true)
	}
	p.seeking = false
	return nil
}

func (p *Player) IsOpened() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.demux != nil
}

func (p *Player) IsPlaying() bool {
	return p.playing.Load()
}

func (p *Player) IsSeeking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seeking
}

func (p *Player) HasVideo() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vidStmIdx >= 0
}

func (p *Player) HasAudio() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.audStmIdx >= 0
}

// Duration returns the media duration in milliseconds, 0 when closed.
func (p *Player) Duration() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.demux == nil {
		return 0
	}
	return p.demux.Duration()
}

// PlayPos returns the current playback position in milliseconds.
func (p *Player) PlayPos() int64 {
	return p.playPos.Load()
}

// CurrentVideo returns the most recently published video frame. The
// mat is never mutated after publication; readers that modify pixels
// must clone.
func (p *Player) CurrentVideo() *media.ImageMat {
	return p.currentVideo.Load()
}

func (p *Player) hasVideoStream() bool { return p.vidStmIdx >= 0 }
func (p *Player) hasAudioStream() bool { return p.audStmIdx >= 0 }

// captureClockSource sets useAudioClock, which reports whether the
// audio device drives the playback clock. Called before the pipeline
// goroutines start.
func (p *Player) captureClockSource() {
	p.useAudioClock = p.audStmIdx >= 0 && p.audrnd != nil
}

func (p *Player) startAllThreads() {
	p.captureClockSource()
	p.quit.Store(false)
	p.wg.Add(1)
	go p.demuxProc()
	if p.hasVideoStream() {
		p.wg.Add(1)
		go p.videoDecodeProc()
	}
	if p.hasAudioStream() {
		p.wg.Add(2)
		go p.audioDecodeProc()
		go p.resampleProc()
	}
	p.wg.Add(1)
	go p.renderProc()
	p.threadsRunning = true
}

func (p *Player) startAllThreadsSeekAsync() {
	p.captureClockSource()
	p.quit.Store(false)
	p.wg.Add(1)
	go p.demuxScrubProc()
	if p.hasVideoStream() {
		p.wg.Add(1)
		go p.videoDecodeProc()
	} else if p.hasAudioStream() {
		p.wg.Add(2)
		go p.audioDecodeProc()
		go p.resampleProc()
	}
	p.wg.Add(1)
	go p.renderScrubProc()
	p.threadsRunning = true
}

// waitAllThreadsQuit raises the quit flag and joins every pipeline
// goroutine. Worst-case latency is one sleep tick.
func (p *Player) waitAllThreadsQuit() {
	p.quit.Store(true)
	p.wg.Wait()
	p.playing.Store(false)
	p.threadsRunning = false
}

func (p *Player) flushAllQueues() {
	if p.vidpktQ != nil {
		p.vidpktQ.Flush(nil)
	}
	if p.audpktQ != nil {
		p.audpktQ.Flush(nil)
	}
	if p.vidfrmQ != nil {
		p.vidfrmQ.Flush(nil)
	}
	if p.audfrmQ != nil {
		p.audfrmQ.Flush(nil)
	}
	if p.swrfrmQ != nil {
		p.swrfrmQ.Flush(nil)
	}
}
