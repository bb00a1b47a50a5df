package export

import (
	"strings"
	"testing"

	"github.com/framewise/framewise/internal/session"
)

func TestGenerateMarkerEDL_SingleMarker(t *testing.T) {
	cps := []session.Checkpoint{{
		Index:   60,
		Label:   "Frame 60 (2.00s)",
		Comment: "bad frame",
		Markups: 1,
	}}

	edl := GenerateMarkerEDL("Review One", "/media/intro.mp4", 30.0, cps)

	for _, want := range []string{
		"TITLE: Review One",
		"FCM: NON-DROP FRAME",
		"001  INTRO    V     C        00:00:02:00 00:00:02:01 00:00:00:00 00:00:00:01",
		"* FROM CLIP NAME:  Frame 60 (2.00s)",
		"* MEDIA PATH:  /media/intro.mp4",
		"* COMMENT: bad frame",
		"* MARKUPS: 1",
	} {
		if !strings.Contains(edl, want) {
			t.Fatalf("missing %q in EDL: %q", want, edl)
		}
	}
}

func TestGenerateMarkerEDL_RecordAdvances(t *testing.T) {
	cps := []session.Checkpoint{
		{Index: 0, Label: "Frame 0 (0.00s)"},
		{Index: 45, Label: "Frame 45 (1.50s)", Comment: "line one\n\nline two"},
	}

	edl := GenerateMarkerEDL("Multi", "", 30.0, cps)

	if !strings.Contains(edl, "001  AX       V     C        00:00:00:00 00:00:00:01 00:00:00:00 00:00:00:01") {
		t.Fatalf("first event line mismatch: %q", edl)
	}
	if !strings.Contains(edl, "002  AX       V     C        00:00:01:15 00:00:01:16 00:00:00:01 00:00:00:02") {
		t.Fatalf("second event line mismatch: %q", edl)
	}
	if strings.Contains(edl, "MEDIA PATH") || strings.Contains(edl, "MARKUPS") {
		t.Fatalf("unexpected optional lines: %q", edl)
	}
	if strings.Count(edl, "* COMMENT: ") != 2 {
		t.Fatalf("multi-line comment should produce two comment lines: %q", edl)
	}
}

func TestGenerateMarkerEDL_DropFrame(t *testing.T) {
	edl := GenerateMarkerEDL("Drop", "/x.mp4", 29.97, []session.Checkpoint{{Index: 1}})

	if !strings.Contains(edl, "FCM: DROP FRAME") {
		t.Fatalf("expected drop frame FCM, got: %q", edl)
	}
	if !strings.Contains(edl, "00:00:00;01 00:00:00;02 00:00:00;00 00:00:00;01") {
		t.Fatalf("expected drop frame timecodes, got: %q", edl)
	}

	edl = GenerateMarkerEDL("Drop", "/x.mp4", 29.97, []session.Checkpoint{{Index: 1800}})
	if !strings.Contains(edl, "00:01:00;02 00:01:00;03") {
		t.Fatalf("frame 1800 should skip ;00 and ;01: %q", edl)
	}
}

func TestGenerateMarkerEDL_NonDropUsesColons(t *testing.T) {
	edl := GenerateMarkerEDL("Film", "/x.mp4", 23.976, []session.Checkpoint{{Index: 1440}})
	if !strings.Contains(edl, "FCM: NON-DROP FRAME") || !strings.Contains(edl, "00:01:00:00 00:01:00:01") {
		t.Fatalf("unexpected non-drop EDL: %q", edl)
	}
	if strings.Contains(edl, ";") {
		t.Fatalf("non-drop EDL must not use ';': %q", edl)
	}
}

func TestFramesToDropTimecode(t *testing.T) {
	tests := []struct {
		frames int
		fps    int
		want   string
	}{
		{0, 30, "00:00:00;00"},
		{1799, 30, "00:00:59;29"},
		{1800, 30, "00:01:00;02"},
		{3598, 30, "00:02:00;02"},
		{17982, 30, "00:10:00;00"},
		{17983, 30, "00:10:00;01"},
		{19782, 30, "00:11:00;02"},
		{107892, 30, "01:00:00;00"},
		{3600, 60, "00:01:00;04"},
		{35964, 60, "00:10:00;00"},
	}
	for _, tc := range tests {
		if got := framesToDropTimecode(tc.frames, tc.fps); got != tc.want {
			t.Errorf("framesToDropTimecode(%d, %d) = %q, want %q", tc.frames, tc.fps, got, tc.want)
		}
	}
}

func TestGenerateMarkerEDL_NoFrameRate(t *testing.T) {
	edl := GenerateMarkerEDL("Unknown", "/x.mp4", 0, []session.Checkpoint{{Index: 30}})
	if !strings.Contains(edl, "00:00:01:00 00:00:01:01") {
		t.Fatalf("fallback rate should be 30: %q", edl)
	}
}

func TestReelName(t *testing.T) {
	tests := map[string]string{
		"":                         "AX",
		"/media/intro.mp4":         "INTRO",
		"/media/my-long_clip9.mov": "MYLONGCL",
		`C:\clips\a b.mp4`:         "AB",
		"/media/___.mp4":           "AX",
	}
	for in, want := range tests {
		if got := reelName(in); got != want {
			t.Errorf("reelName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFramesToTimecode(t *testing.T) {
	tests := []struct {
		name   string
		frames int
		fps    int
		want   string
	}{
		{name: "zero", frames: 0, fps: 30, want: "00:00:00:00"},
		{name: "one second", frames: 30, fps: 30, want: "00:00:01:00"},
		{name: "partial second", frames: 15, fps: 30, want: "00:00:00:15"},
		{name: "one minute", frames: 1500, fps: 25, want: "00:01:00:00"},
		{name: "one hour", frames: 86400, fps: 24, want: "01:00:00:00"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := framesToTimecode(tc.frames, tc.fps)
			if got != tc.want {
				t.Fatalf("framesToTimecode(%d, %d) = %q, want %q", tc.frames, tc.fps, got, tc.want)
			}
		})
	}
}
