package player

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/medit/medit-engine/internal/media"
	"github.com/medit/medit-engine/internal/timebase"
)

const (
	scrubCacheMax      = 64
	scrubCacheShrink   = 48
	scrubCacheMinIntvl = 0.5 // seconds between cached frames
)

// demuxScrubProc is the scrub-mode demuxer: it maintains a
// [seekPos0, seekPos1) video-pts window around the current scrub
// target. When the target leaves the window, two bounded seeks locate
// the neighboring keyframes; packets inside the window stream into
// the decoder, everything past seekPos1 is held back.
func (p *Player) demuxScrubProc() {
	defer p.wg.Done()
	p.logger.Debug("scrub demux loop started")
	seekPos0 := int64(math.MinInt64)
	seekPos1 := int64(math.MinInt64)
	var pkt *media.Packet
	for !p.quit.Load() {
		idle := true

		if p.hasVideoStream() {
			curr := p.asyncSeekPos.Load()
			if curr != asyncSeekUnset {
				vidSeekPos := timebase.Rescale(curr, timebase.Millisec, p.vidStream.TimeBase)
				if vidSeekPos < seekPos0 || vidSeekPos >= seekPos1 {
					pkt = nil
					// next keyframe after the target bounds the window
					if err := p.demux.SeekFile(p.vidStmIdx, vidSeekPos+1, vidSeekPos+1, math.MaxInt64); err != nil {
						p.recordFatal("scrub demux", err)
						break
					}
					_, pts1, ok := p.readNextStreamPacket(p.vidStmIdx)
					if !ok {
						break
					}
					seekPos1 = pts1
					// keyframe at/before the target starts it
					if err := p.demux.SeekFile(p.vidStmIdx, math.MinInt64, vidSeekPos, vidSeekPos); err != nil {
						p.recordFatal("scrub demux", err)
						break
					}
					firstPkt, pts0, ok := p.readNextStreamPacket(p.vidStmIdx)
					if !ok {
						break
					}
					seekPos0 = pts0
					pkt = firstPkt
					p.logger.Debug("scrub window updated",
						"start", timebase.MillisecToString(timebase.Rescale(seekPos0, p.vidStream.TimeBase, timebase.Millisec)),
						"end", timebase.MillisecToString(timebase.Rescale(seekPos1, p.vidStream.TimeBase, timebase.Millisec)))
				}
			}
		} else {
			seekPos0 = p.asyncSeekPos.Load()
		}

		if pkt == nil {
			var err error
			pkt, err = p.demux.ReadPacket()
			if err != nil {
				if errors.Is(err, media.ErrEOF) {
					p.logger.Debug("scrub demuxer eof")
				} else {
					p.recordFatal("scrub demux", err)
				}
				break
			}
			idle = false
		}

		if p.hasVideoStream() && pkt.StreamIndex == p.vidStmIdx {
			if !p.vidpktQ.Full() && pkt.Pts < seekPos1 {
				p.vidpktQ.Push(pkt)
				pkt = nil
				idle = false
			}
		} else if p.hasAudioStream() && !p.hasVideoStream() && pkt.StreamIndex == p.audStmIdx {
			if p.audpktQ.Push(pkt) {
				pkt = nil
				idle = false
			}
		} else {
			pkt = nil
		}

		if idle {
			time.Sleep(pipelineSleep)
		}
	}
	p.demuxEof.Store(true)
	p.logger.Debug("scrub demux loop stopped")
}

// readNextStreamPacket reads ahead to the next packet of the stream.
// At EOF it reports pts = MaxInt64 with a nil packet.
func (p *Player) readNextStreamPacket(streamIdx int) (*media.Packet, int64, bool) {
	for {
		pkt, err := p.demux.ReadPacket()
		if err != nil {
			if errors.Is(err, media.ErrEOF) {
				return nil, math.MaxInt64, true
			}
			p.recordFatal("scrub demux", err)
			return nil, 0, false
		}
		if pkt.StreamIndex == streamIdx {
			return pkt, pkt.Pts, true
		}
	}
}

// renderScrubProc is the scrub-mode renderer: it keeps a bounded,
// timestamp-sorted cache of decoded frames and snaps the published
// image to the cache entry nearest the current target. Inserts are
// skipped within scrubCacheMinIntvl of an existing entry; past
// scrubCacheMax entries the cache is shrunk to scrubCacheShrink by
// dropping whichever endpoint lies farther from the target.
func (p *Player) renderScrubProc() {
	defer p.wg.Done()
	p.logger.Debug("scrub render loop started")
	var cache []*media.ImageMat
	prevSeekPos := int64(asyncSeekUnset)
	for !p.quit.Load() {
		idle := true
		updated := false
		prevCachedTs := math.Inf(-1)

		for {
			frm, ok := p.vidfrmQ.Pop()
			if !ok {
				break
			}
			ts := float64(frm.PtsMillisec()) / 1000

			skip := math.Abs(ts-prevCachedTs) < scrubCacheMinIntvl
			if !skip {
				for _, m := range cache {
					if math.Abs(m.Timestamp-ts) < scrubCacheMinIntvl {
						skip = true
						break
					}
				}
			}
			if skip {
				continue
			}

			mat, err := p.conv.Convert(frm, ts)
			if err != nil {
				p.logger.Error("frame conversion failed", "error", err)
				continue
			}
			cache = append(cache, mat)
			prevCachedTs = ts
			updated = true

			if len(cache) > scrubCacheMax {
				target := float64(p.asyncSeekPos.Load()) / 1000
				sort.Slice(cache, func(i, j int) bool { return cache[i].Timestamp < cache[j].Timestamp })
				for len(cache) > scrubCacheShrink {
					if math.Abs(cache[0].Timestamp-target) > math.Abs(cache[len(cache)-1].Timestamp-target) {
						cache = cache[1:]
					} else {
						cache = cache[:len(cache)-1]
					}
				}
			}
		}
		if updated {
			sort.Slice(cache, func(i, j int) bool { return cache[i].Timestamp < cache[j].Timestamp })
		}

		curr := p.asyncSeekPos.Load()
		if curr != asyncSeekUnset && (curr != prevSeekPos || updated) {
			target := float64(curr) / 1000
			if best := nearestByTimestamp(cache, target); best != nil {
				p.currentVideo.Store(best)
			}
			prevSeekPos = curr
			idle = false
		}
		p.scrubCacheLen.Store(int32(len(cache)))

		if idle {
			time.Sleep(renderSleep)
		}
	}
	p.logger.Debug("scrub render loop stopped")
}

func nearestByTimestamp(cache []*media.ImageMat, target float64) *media.ImageMat {
	if len(cache) == 0 {
		return nil
	}
	i := sort.Search(len(cache), func(i int) bool { return cache[i].Timestamp >= target })
	switch {
	case i == 0:
		return cache[0]
	case i == len(cache):
		return cache[len(cache)-1]
	default:
		if math.Abs(cache[i].Timestamp-target) < math.Abs(cache[i-1].Timestamp-target) {
			return cache[i]
		}
		return cache[i-1]
	}
}
