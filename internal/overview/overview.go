// Package overview builds a fixed-count strip of evenly spaced
// thumbnails from a media file, using seek-per-shot demuxing: one
// demuxer seek per snapshot, decoding only the packets needed for the
// frame at each target.
package overview

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

var (
	ErrNotOpened       = errors.New("no media has been opened")
	ErrInvalidArgument = errors.New("invalid argument")
)

const (
	pktQMaxSize   = 8
	frmQMaxSize   = 8
	pipelineSleep = 5 * time.Millisecond
	unsetPts      = math.MinInt64
)

// Snapshot is one slot of the overview. SameAs >= 0 marks a slot
// whose frame equals an earlier slot's (the demuxer seek landed on
// the same packet); its image lives in that slot.
type Snapshot struct {
	Index  int
	Image  *media.ImageMat
	SameAs int

	frmPts int64
}

// Overview drives a private demux → decode → generate pipeline over
// one media file. Control methods serialize on the control lock; the
// snapshot table has its own lock shared with the worker goroutines.
type Overview struct {
	logger  *slog.Logger
	backend media.Backend

	mu sync.Mutex

	demux     media.Demuxer
	viddec    media.Decoder
	conv      media.FrameConverter
	vidStmIdx int
	vidStream media.StreamInfo

	ssCount   int
	ssIntvMts float64
	startMts  int64

	outWidth  int
	outHeight int
	wFactor   float64
	hFactor   float64
	colorFmt  media.ColorFormat
	interp    media.InterpolationMode

	ssLock    sync.Mutex
	snapshots []Snapshot

	pktQ *queue.Bounded[*media.Packet]
	frmQ *queue.Bounded[*media.Frame]

	quit      atomic.Bool
	wg        sync.WaitGroup
	running   bool
	demuxEof  atomic.Bool
	decodeEof atomic.Bool
	genDone   atomic.Bool
}

func New(backend media.Backend, logger *slog.Logger) *Overview {
	if logger == nil {
		logger = slog.Default()
	}
	return &Overview{
		logger:  logger,
		backend: backend,
		wFactor: 1,
		hFactor: 1,
	}
}

// Open binds the media and starts building snapshotCount snapshots
// spread evenly across the video duration.
func (o *Overview) Open(url string, snapshotCount int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if snapshotCount < 1 {
		return fmt.Errorf("snapshot count %d: %w", snapshotCount, ErrInvalidArgument)
	}
	if o.demux != nil {
		o.closeLocked()
	}

	demux := o.backend.NewDemuxer()
	if err := demux.Open(url); err != nil {
		return fmt.Errorf("open media: %w", err)
	}
	idx, err := demux.FindBestStream(media.MediaTypeVideo)
	if err != nil {
		demux.Close()
		return fmt.Errorf("no video stream in %q: %w", url, err)
	}
	o.demux = demux
	o.vidStmIdx = idx
	o.vidStream = demux.Streams()[idx]

	o.viddec, err = o.backend.NewVideoDecoder(media.DecoderConfig{
		Params: media.CodecParams{Stream: o.vidStream},
	})
	if err != nil {
		o.closeLocked()
		return fmt.Errorf("open video decoder: %w", err)
	}
	o.conv = o.backend.NewFrameConverter()

	o.ssCount = snapshotCount
	o.startMts = demux.StartTime()
	o.ssIntvMts = float64(demux.Duration()) / float64(snapshotCount)

	o.buildSnapshots()
	return nil
}

// Close stops the worker goroutines and releases the media.
func (o *Overview) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeLocked()
	return nil
}

func (o *Overview) closeLocked() {
	o.stopThreads()
	if o.viddec != nil {
		o.viddec.Close()
		o.viddec = nil
	}
	if o.demux != nil {
		o.demux.Close()
		o.demux = nil
	}
	o.ssLock.Lock()
	o.snapshots = nil
	o.ssLock.Unlock()
}

// IsOpened reports whether media is bound.
func (o *Overview) IsOpened() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.demux != nil
}

// Done reports whether every snapshot slot is resolved.
func (o *Overview) Done() bool {
	return o.genDone.Load()
}

// SnapshotCount returns the configured number of snapshots.
func (o *Overview) SnapshotCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ssCount
}

// GetSnapshots returns the current snapshot table with SameAs chains
// resolved to concrete images. Slots not yet produced carry a nil
// image.
func (o *Overview) GetSnapshots() []Snapshot {
	o.ssLock.Lock()
	defer o.ssLock.Unlock()
	out := make([]Snapshot, len(o.snapshots))
	copy(out, o.snapshots)
	for i := range out {
		if out[i].SameAs >= 0 && out[i].SameAs < len(out) {
			out[i].Image = out[out[i].SameAs].Image
		}
	}
	return out
}

// SetSnapshotSize fixes the output size in pixels; 0/0 keeps the
// source size. Triggers a rebuild.
func (o *Overview) SetSnapshotSize(w, h int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if w < 0 || h < 0 {
		return fmt.Errorf("snapshot size %dx%d: %w", w, h, ErrInvalidArgument)
	}
	if o.outWidth == w && o.outHeight == h {
		return nil
	}
	o.outWidth, o.outHeight = w, h
	o.wFactor, o.hFactor = 0, 0
	return o.rebuildSnapshots()
}

// SetSnapshotResizeFactor sizes the output relative to the source
// dimensions. Triggers a rebuild.
func (o *Overview) SetSnapshotResizeFactor(wf, hf float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if wf <= 0 || hf <= 0 {
		return fmt.Errorf("resize factor %f/%f: %w", wf, hf, ErrInvalidArgument)
	}
	if o.wFactor == wf && o.hFactor == hf {
		return nil
	}
	o.wFactor, o.hFactor = wf, hf
	o.outWidth = int(float64(o.vidStream.Width)*wf + 0.5)
	o.outHeight = int(float64(o.vidStream.Height)*hf + 0.5)
	return o.rebuildSnapshots()
}

// SetOutColorFormat changes the thumbnail color format. Triggers a
// rebuild.
func (o *Overview) SetOutColorFormat(cf media.ColorFormat) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.colorFmt == cf {
		return nil
	}
	o.colorFmt = cf
	return o.rebuildSnapshots()
}

// SetResizeInterpolateMode changes the resize interpolation. Triggers
// a rebuild.
func (o *Overview) SetResizeInterpolateMode(mode media.InterpolationMode) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.interp == mode {
		return nil
	}
	o.interp = mode
	return o.rebuildSnapshots()
}

func (o *Overview) rebuildSnapshots() error {
	if o.demux == nil {
		return ErrNotOpened
	}
	o.stopThreads()
	o.viddec.Flush()
	o.buildSnapshots()
	return nil
}

func (o *Overview) buildSnapshots() {
	o.ssLock.Lock()
	o.snapshots = make([]Snapshot, o.ssCount)
	for i := range o.snapshots {
		o.snapshots[i] = Snapshot{Index: i, SameAs: -1, frmPts: unsetPts}
	}
	o.ssLock.Unlock()

	o.conv.SetOutSize(o.outWidth, o.outHeight)
	o.conv.SetOutColorFormat(o.colorFmt)
	o.conv.SetResizeInterpolation(o.interp)

	o.pktQ = queue.NewBounded[*media.Packet](pktQMaxSize)
	o.frmQ = queue.NewBounded[*media.Frame](frmQMaxSize)
	o.demuxEof.Store(false)
	o.decodeEof.Store(false)
	o.genDone.Store(false)

	o.quit.Store(false)
	o.wg.Add(3)
	go o.demuxProc()
	go o.decodeProc()
	go o.generateProc()
	o.running = true
}

func (o *Overview) stopThreads() {
	if !o.running {
		return
	}
	o.quit.Store(true)
	o.wg.Wait()
	o.running = false
	if o.pktQ != nil {
		o.pktQ.Flush(nil)
	}
	if o.frmQ != nil {
		o.frmQ.Flush(nil)
	}
}

// nextPendingSnapshot picks the first slot that has neither a chosen
// packet nor a same-as reference.
func (o *Overview) nextPendingSnapshot() (int, bool) {
	o.ssLock.Lock()
	defer o.ssLock.Unlock()
	for i := range o.snapshots {
		if o.snapshots[i].frmPts == unsetPts && o.snapshots[i].SameAs < 0 {
			return i, true
		}
	}
	return 0, false
}

// demuxProc seeks per snapshot: one seek to the slot's target pts,
// then one video packet. When the landed packet equals an earlier
// slot's choice the slot becomes a same-as reference and nothing is
// enqueued.
func (o *Overview) demuxProc() {
	defer o.wg.Done()
	o.logger.Debug("overview demux loop started")
	for !o.quit.Load() {
		idx, ok := o.nextPendingSnapshot()
		if !ok {
			break
		}

		targetMts := int64(o.ssIntvMts*float64(idx)) + o.startMts
		targetPts := timebase.Rescale(targetMts, timebase.Millisec, o.vidStream.TimeBase)
		if err := o.demux.SeekFile(o.vidStmIdx, math.MinInt64, targetPts, targetPts); err != nil {
			o.logger.Error("overview seek failed", "snapshot", idx, "error", err)
			break
		}

		pkt, err := o.readVideoPacket()
		if err != nil {
			if !errors.Is(err, media.ErrEOF) {
				o.logger.Error("overview read failed", "snapshot", idx, "error", err)
			}
			o.markSameAsPrevious(idx)
			continue
		}

		o.ssLock.Lock()
		dup := -1
		for j := range o.snapshots {
			if j != idx && o.snapshots[j].frmPts == pkt.Pts {
				dup = j
				break
			}
		}
		if dup >= 0 {
			if o.snapshots[dup].SameAs >= 0 {
				dup = o.snapshots[dup].SameAs
			}
			o.snapshots[idx].SameAs = dup
			o.ssLock.Unlock()
			continue
		}
		o.snapshots[idx].frmPts = pkt.Pts
		o.ssLock.Unlock()

		for !o.pktQ.Push(pkt) {
			if o.quit.Load() {
				o.demuxEof.Store(true)
				return
			}
			time.Sleep(pipelineSleep)
		}
	}
	o.demuxEof.Store(true)
	o.logger.Debug("overview demux loop stopped")
}

func (o *Overview) readVideoPacket() (*media.Packet, error) {
	for {
		pkt, err := o.demux.ReadPacket()
		if err != nil {
			return nil, err
		}
		if pkt.StreamIndex == o.vidStmIdx {
			return pkt, nil
		}
	}
}

// markSameAsPrevious resolves a slot whose packet could not be read
// (EOF at the tail) to the nearest earlier resolved slot.
func (o *Overview) markSameAsPrevious(idx int) {
	o.ssLock.Lock()
	defer o.ssLock.Unlock()
	for j := idx - 1; j >= 0; j-- {
		if o.snapshots[j].frmPts != unsetPts {
			o.snapshots[idx].SameAs = j
			return
		}
		if o.snapshots[j].SameAs >= 0 {
			o.snapshots[idx].SameAs = o.snapshots[j].SameAs
			return
		}
	}
	o.snapshots[idx].SameAs = 0
}

func (o *Overview) decodeProc() {
	defer o.wg.Done()
	var held *media.Frame
	inputEof := false
	for !o.quit.Load() {
		idle := true

		for {
			if held == nil {
				frm, err := o.viddec.ReceiveFrame()
				if err != nil {
					if errors.Is(err, media.ErrAgain) {
						break
					}
					if !errors.Is(err, media.ErrEOF) {
						o.logger.Error("overview decode failed", "error", err)
					}
					o.decodeEof.Store(true)
					return
				}
				held = frm
				idle = false
			}
			if o.frmQ.Push(held) {
				held = nil
				idle = false
			} else {
				break
			}
		}

		if !inputEof {
			for {
				pkt, ok := o.pktQ.Peek()
				if !ok {
					break
				}
				if err := o.viddec.SendPacket(pkt); err != nil {
					if !errors.Is(err, media.ErrAgain) {
						o.logger.Error("overview decoder rejected packet", "error", err)
						o.decodeEof.Store(true)
						return
					}
					break
				}
				o.pktQ.Pop()
				idle = false
			}
			if o.pktQ.Len() == 0 && o.demuxEof.Load() {
				o.viddec.SendPacket(nil)
				inputEof = true
				idle = false
			}
		}

		if idle {
			time.Sleep(pipelineSleep)
		}
	}
	o.decodeEof.Store(true)
}

// generateProc matches decoded frames to waiting slots by pts and
// writes the converted thumbnails. After the decoder drains, any
// still-empty tail slots point at the last filled one.
func (o *Overview) generateProc() {
	defer o.wg.Done()
	for !o.quit.Load() {
		frm, ok := o.frmQ.Pop()
		if !ok {
			if o.decodeEof.Load() && o.frmQ.Len() == 0 {
				break
			}
			time.Sleep(pipelineSleep)
			continue
		}

		ts := float64(frm.PtsMillisec()) / 1000
		mat, err := o.conv.Convert(frm, ts)
		if err != nil {
			o.logger.Error("overview conversion failed", "error", err)
			continue
		}

		o.ssLock.Lock()
		for i := range o.snapshots {
			if o.snapshots[i].frmPts == frm.Pts && o.snapshots[i].Image == nil {
				o.snapshots[i].Image = mat
			}
		}
		o.ssLock.Unlock()
	}

	o.ssLock.Lock()
	lastFilled := -1
	for i := range o.snapshots {
		if o.snapshots[i].Image != nil {
			lastFilled = i
		} else if o.snapshots[i].SameAs < 0 && lastFilled >= 0 {
			o.snapshots[i].SameAs = lastFilled
		}
	}
	o.ssLock.Unlock()
	o.genDone.Store(true)
	o.logger.Debug("overview generation finished")
}
