package export

import (
	"strings"
	"testing"

	"github.com/medit/medit-engine/internal/media"
	"github.com/medit/medit-engine/internal/timebase"
	"github.com/medit/medit-engine/internal/timeline"
)

func TestGenerateEDL_SingleClip(t *testing.T) {
	clips := []ResolvedClip{{
		ClipName:    "Intro",
		MediaPath:   "/media/intro.mp4",
		SourceInMs:  0,
		SourceOutMs: 2000,
		RecordInMs:  0,
		RecordOutMs: 2000,
	}}

	edl := GenerateEDL(clips, "Project One", 30.0)

	if !strings.Contains(edl, "TITLE: Project One") {
		t.Fatalf("missing title in EDL: %q", edl)
	}
	if !strings.Contains(edl, "FCM: NON-DROP FRAME") {
		t.Fatalf("missing non-drop-frame FCM: %q", edl)
	}
	if !strings.Contains(edl, "001  AX       V     C        00:00:00:00 00:00:02:00 00:00:00:00 00:00:02:00") {
		t.Fatalf("missing event line: %q", edl)
	}
	if !strings.Contains(edl, "* FROM CLIP NAME:  Intro") {
		t.Fatalf("missing clip name comment: %q", edl)
	}
	if !strings.Contains(edl, "* MEDIA PATH:  /media/intro.mp4") {
		t.Fatalf("missing media path comment: %q", edl)
	}
}

func TestGenerateEDL_DropFrame(t *testing.T) {
	edl := GenerateEDL(nil, "DF", 29.97)
	if !strings.Contains(edl, "FCM: DROP FRAME") {
		t.Errorf("29.97 fps EDL not marked drop frame: %q", edl)
	}
}

// urlSource is a timeline video source with a backing file path.
type urlSource struct {
	dur int64
	url string
}

func (s *urlSource) Duration() int64 { return s.dur }
func (s *urlSource) URL() string     { return s.url }

func (s *urlSource) ReadFrame(pos int64) (*media.ImageMat, error) {
	return media.NewImageMat(2, 2, 1), nil
}

func TestResolveVideoTrack(t *testing.T) {
	track, err := timeline.NewVideoTrack(1, 1920, 1080, timebase.Ratio{Num: 25, Den: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := track.AddNewClip(1, &urlSource{dur: 3000, url: "/media/intro.mp4"}, 0, 500, 500, 0); err != nil {
		t.Fatalf("add clip: %v", err)
	}
	// gap between 2000 and 4000 on the record side
	if _, err := track.AddNewClip(2, &urlSource{dur: 1000, url: "/media/outro.mov"}, 4000, 0, 0, 0); err != nil {
		t.Fatalf("add second clip: %v", err)
	}

	clips := ResolveVideoTrack(track)
	if len(clips) != 2 {
		t.Fatalf("resolved %d clips, want 2", len(clips))
	}
	first := clips[0]
	if first.ClipName != "intro" || first.SourceInMs != 500 || first.SourceOutMs != 2500 {
		t.Errorf("first clip = %+v", first)
	}
	second := clips[1]
	if second.RecordInMs != 4000 || second.RecordOutMs != 5000 {
		t.Errorf("second clip record range = [%d, %d], want [4000, 5000]", second.RecordInMs, second.RecordOutMs)
	}

	edl := TrackEDL(track, "My Cut")
	if !strings.Contains(edl, "TITLE: My Cut") || !strings.Contains(edl, "00:00:04:00") {
		t.Errorf("track EDL missing expected fields:\n%s", edl)
	}
}
