package export

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/medit/medit-engine/internal/timeline"
)

// GenerateEDL renders the clips as a CMX3600 EDL. Record times come
// from the clips' track positions, so holes in the timeline survive
// the round trip.
func GenerateEDL(clips []ResolvedClip, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", SanitizeName(title, 70))}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	for i, clip := range clips {
		srcIn := msToTimecode(clip.SourceInMs, fps)
		srcOut := msToTimecode(clip.SourceOutMs, fps)
		recIn := msToTimecode(clip.RecordInMs, fps)
		recOut := msToTimecode(clip.RecordOutMs, fps)

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", "V", srcIn, srcOut, recIn, recOut),
			fmt.Sprintf("* FROM CLIP NAME:  %s", clip.ClipName),
			fmt.Sprintf("* MEDIA PATH:  %s", clip.MediaPath),
		)
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

// SourceURL is implemented by media sources that know their backing
// file.
type SourceURL interface {
	URL() string
}

// ResolveVideoTrack flattens a track's clips into EDL events in start
// order.
func ResolveVideoTrack(track *timeline.VideoTrack) []ResolvedClip {
	var out []ResolvedClip
	for i := 0; i < track.ClipCount(); i++ {
		clip := track.GetClipByIndex(i)
		if clip == nil {
			continue
		}
		mediaPath := ""
		if su, ok := clip.Source().(SourceURL); ok {
			mediaPath = su.URL()
		}
		name := fmt.Sprintf("clip %d", clip.ID())
		if mediaPath != "" {
			base := filepath.Base(mediaPath)
			name = strings.TrimSuffix(base, filepath.Ext(base))
		}
		out = append(out, ResolvedClip{
			ClipName:    name,
			MediaPath:   mediaPath,
			SourceInMs:  clip.StartOffset(),
			SourceOutMs: clip.StartOffset() + clip.Duration(),
			RecordInMs:  clip.Start(),
			RecordOutMs: clip.End(),
		})
	}
	return out
}

// TrackEDL renders a whole video track.
func TrackEDL(track *timeline.VideoTrack, title string) string {
	fr := track.FrameRate()
	fps := float64(fr.Num) / float64(fr.Den)
	return GenerateEDL(ResolveVideoTrack(track), title, fps)
}

func msToTimecode(ms int64, fps int) string {
	totalFrames := int64(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % int64(fps)
	totalSeconds := totalFrames / int64(fps)
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
