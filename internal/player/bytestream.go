package player

import (
	"encoding/binary"
	"time"
)

// audioByteStream is the pull callback the audio render device drains
// PCM through. It converts resampled frames to interleaved signed
// 16-bit samples, carries partially consumed frames across calls, and
// publishes the last consumed frame's presentation time as the audio
// clock.
type audioByteStream struct {
	p       *Player
	partial []byte
}

func newAudioByteStream(p *Player) *audioByteStream {
	return &audioByteStream{p: p}
}

func (bs *audioByteStream) Read(buf []byte, blocking bool) int {
	load := 0
	if len(bs.partial) > 0 {
		n := copy(buf, bs.partial)
		bs.partial = bs.partial[n:]
		load += n
	}

	tsUpdate := false
	var audMts int64
	for load < len(buf) {
		idle := true
		frm, ok := bs.p.swrfrmQ.Pop()
		if !ok {
			if bs.p.swrEof.Load() || bs.p.auddecEof.Load() {
				break
			}
		} else {
			pcm := pcmS16Bytes(frm.Data)
			tsUpdate = true
			audMts = frm.PtsMillisec()

			n := copy(buf[load:], pcm)
			load += n
			if n < len(pcm) {
				bs.partial = pcm[n:]
			}
			idle = false
		}

		if idle {
			if !blocking {
				break
			}
			time.Sleep(pipelineSleep)
		}
	}

	if tsUpdate {
		bs.p.audioMts.Store(audMts)
	}
	return load
}

func (bs *audioByteStream) reset() {
	bs.partial = nil
}

func (bs *audioByteStream) drained() bool {
	return len(bs.partial) == 0
}

// pcmS16Bytes converts interleaved float samples in [-1, 1] to
// little-endian signed 16-bit PCM.
func pcmS16Bytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
