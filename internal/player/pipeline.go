package player

import (
	"errors"
	"math"
	"time"

	"github.com/medit/medit-engine/internal/media"
)

// demuxProc reads packets and routes them into the typed packet
// queues, backing off when the destination queue is full. Exits on
// demuxer EOF or quit.
func (p *Player) demuxProc() {
	defer p.wg.Done()
	p.logger.Debug("demux loop started")
	var pkt *media.Packet
	for !p.quit.Load() {
		idle := true
		if pkt == nil {
			var err error
			pkt, err = p.demux.ReadPacket()
			if err != nil {
				if errors.Is(err, media.ErrEOF) {
					p.logger.Debug("demuxer eof")
				} else {
					p.recordFatal("demux", err)
				}
				break
			}
			idle = false
		}

		if p.hasVideoStream() && pkt.StreamIndex == p.vidStmIdx {
			if p.vidpktQ.Push(pkt) {
				pkt = nil
				idle = false
			}
		} else if p.hasAudioStream() && pkt.StreamIndex == p.audStmIdx {
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
	p.logger.Debug("demux loop stopped")
}

// videoDecodeProc drains the video packet queue through the decoder
// into the video frame queue. After a seek, decoded frames before the
// seek target are dropped (unless seek-to-I resolved the target to
// the first decoded frame).
func (p *Player) videoDecodeProc() {
	defer p.wg.Done()
	p.logger.Debug("video decode loop started")
	var held *media.Frame
	inputEof := false
	for !p.quit.Load() {
		idle := true
		quitLoop := false

		for {
			if held == nil {
				frm, err := p.viddec.ReceiveFrame()
				if err != nil {
					if errors.Is(err, media.ErrAgain) {
						break
					}
					if !errors.Is(err, media.ErrEOF) {
						p.recordFatal("video decode", err)
					}
					quitLoop = true
					break
				}
				idle = false
				if p.afterSeek.Load() {
					mts := frm.PtsMillisec()
					if p.seekToI.Load() && !p.hasAudioStream() {
						p.seekToMts.Store(mts)
						p.seekToI.Store(false)
					}
					if mts < p.seekToMts.Load() {
						continue
					}
				}
				held = frm
			}
			if p.vidfrmQ.Push(held) {
				held = nil
				idle = false
			} else {
				break
			}
		}
		if quitLoop {
			break
		}

		if !inputEof {
			for {
				pkt, ok := p.vidpktQ.Peek()
				if !ok {
					break
				}
				err := p.viddec.SendPacket(pkt)
				if err == nil {
					p.vidpktQ.Pop()
					idle = false
					continue
				}
				if !errors.Is(err, media.ErrAgain) {
					p.recordFatal("video decode", err)
					quitLoop = true
				}
				break
			}
			if quitLoop {
				break
			}
			if p.vidpktQ.Len() == 0 && p.demuxEof.Load() {
				p.viddec.SendPacket(nil)
				idle = false
				inputEof = true
			}
		}

		if idle {
			time.Sleep(pipelineSleep)
		}
	}
	p.viddecEof.Store(true)
	p.logger.Debug("video decode loop stopped")
}

// audioDecodeProc mirrors videoDecodeProc for audio. It keeps a
// running estimate of the mean frame duration over the first
// audFrmAvgDurCount frames and resizes the resampled queue to hold
// audQDuration seconds.
func (p *Player) audioDecodeProc() {
	defer p.wg.Done()
	p.logger.Debug("audio decode loop started")
	var held *media.Frame
	inputEof := false
	avgFrames := 0
	for !p.quit.Load() {
		idle := true
		quitLoop := false

		for {
			if held == nil {
				frm, err := p.auddec.ReceiveFrame()
				if err != nil {
					if errors.Is(err, media.ErrAgain) {
						break
					}
					if !errors.Is(err, media.ErrEOF) {
						p.recordFatal("audio decode", err)
					}
					quitLoop = true
					break
				}
				idle = false

				if frm.SampleRate > 0 && avgFrames < audFrmAvgDurCount {
					avgFrames++
					frmDur := float64(frm.SampleCount) / float64(frm.SampleRate)
					avg := float64(p.audFrmAvgNs.Load()) / float64(time.Second)
					avg = (avg*float64(avgFrames-1) + frmDur) / float64(avgFrames)
					p.audFrmAvgNs.Store(int64(avg * float64(time.Second)))
					swrMax := int(math.Ceil(audQDuration / avg))
					p.swrfrmQ.SetMaxSize(swrMax)
					p.audfrmQ.SetMaxSize(int(math.Ceil(float64(swrMax) / 5)))
				}

				if p.afterSeek.Load() {
					audMts := frm.PtsMillisec()
					if p.seekToI.Load() {
						p.seekToMts.Store(audMts)
						p.seekToI.Store(false)
					}
					if audMts < p.seekToMts.Load() {
						p.audioMts.Store(audMts)
						if !p.hasVideoStream() {
							p.afterSeek.Store(false)
						}
						continue
					}
					if !p.hasVideoStream() {
						p.afterSeek.Store(false)
					}
				}
				held = frm
			}
			if p.audfrmQ.Push(held) {
				held = nil
				idle = false
			} else {
				break
			}
		}
		if quitLoop {
			break
		}

		if !inputEof {
			for {
				pkt, ok := p.audpktQ.Peek()
				if !ok {
					break
				}
				err := p.auddec.SendPacket(pkt)
				if err == nil {
					p.audpktQ.Pop()
					idle = false
					continue
				}
				if !errors.Is(err, media.ErrAgain) {
					p.recordFatal("audio decode", err)
					quitLoop = true
				}
				break
			}
			if quitLoop {
				break
			}
			if p.audpktQ.Len() == 0 && p.demuxEof.Load() {
				p.auddec.SendPacket(nil)
				idle = false
				inputEof = true
			}
		}

		if idle {
			time.Sleep(pipelineSleep)
		}
	}
	p.auddecEof.Store(true)
	p.logger.Debug("audio decode loop stopped")
}

// resampleProc converts decoded audio frames to the output format.
// When the formats already match, frames are forwarded untouched.
func (p *Player) resampleProc() {
	defer p.wg.Done()
	for !p.quit.Load() {
		idle := true
		if frm, ok := p.audfrmQ.Peek(); ok {
			if !p.swrfrmQ.Full() {
				out, err := p.resampler.Convert(frm)
				if err != nil {
					p.recordFatal("resample", err)
					break
				}
				p.audfrmQ.Pop()
				p.swrfrmQ.Push(out)
				idle = false
			}
		} else if p.auddecEof.Load() {
			break
		}

		if idle {
			time.Sleep(pipelineSleep)
		}
	}
	p.swrEof.Store(true)
}

// renderProc is the playback renderer: it derives the playback clock
// (audio-driven when the audio device is present, monotonic
// otherwise), pops video frames whose presentation time has arrived,
// and publishes the converted mat.
func (p *Player) renderProc() {
	defer p.wg.Done()
	for !p.quit.Load() {
		if !p.playing.Load() {
			time.Sleep(pipelineSleep)
			continue
		}

		vidIdle := true

		if p.useAudioClock {
			p.playPos.Store(p.audioMts.Load() - p.audioOffset.Load())
		} else if p.afterSeek.Load() {
			p.playPos.Store(p.seekToMts.Load())
		} else {
			elapsed := (time.Now().UnixNano() - p.runStart.Load()) / int64(time.Millisecond)
			p.playPos.Store(elapsed + p.posOffset.Load() - p.pausedDur.Load())
		}

		if p.hasVideoStream() {
			if frm, ok := p.vidfrmQ.Peek(); ok {
				if p.afterSeek.Load() {
					if !p.useAudioClock {
						p.runStart.Store(time.Now().UnixNano())
						p.posOffset.Store(p.seekToMts.Load())
					}
					p.afterSeek.Store(false)
				}
				mts := frm.PtsMillisec()
				if p.playPos.Load() >= mts {
					p.vidfrmQ.Pop()
					mat, err := p.conv.Convert(frm, float64(mts)/1000)
					if err != nil {
						p.logger.Error("frame conversion failed", "error", err)
					} else {
						p.currentVideo.Store(mat)
					}
					vidIdle = false
				}
			}
		}

		if p.atRenderEof() {
			p.renderEof.Store(true)
		}

		if vidIdle {
			time.Sleep(renderSleep)
		}
	}
	p.logger.Debug("render loop stopped")
}

// atRenderEof reports that every stage has drained at end of media.
func (p *Player) atRenderEof() bool {
	if !p.demuxEof.Load() {
		return false
	}
	if p.hasVideoStream() && (!p.viddecEof.Load() || p.vidfrmQ.Len() > 0) {
		return false
	}
	if p.hasAudioStream() {
		if !p.swrEof.Load() || p.swrfrmQ.Len() > 0 {
			return false
		}
		if p.byteStream != nil && !p.byteStream.drained() {
			return false
		}
	}
	return true
}
