package export

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/framewise/framewise/internal/session"
)

// GenerateMarkerEDL writes a CMX3600-style EDL with one single-frame
// event per reviewed frame. Record time advances one frame per event.
func GenerateMarkerEDL(title, mediaPath string, frameRate float64, checkpoints []session.Checkpoint) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	timecode := framesToTimecode
	if isDropFrame {
		timecode = framesToDropTimecode
	}

	reel := reelName(mediaPath)
	for i, cp := range checkpoints {
		srcIn := timecode(cp.Index, fps)
		srcOut := timecode(cp.Index+1, fps)
		recIn := timecode(i, fps)
		recOut := timecode(i+1, fps)

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, reel, "V", srcIn, srcOut, recIn, recOut),
			fmt.Sprintf("* FROM CLIP NAME:  %s", cp.Label),
		)
		if mediaPath != "" {
			lines = append(lines, fmt.Sprintf("* MEDIA PATH:  %s", mediaPath))
		}
		for _, c := range commentLines(cp.Comment) {
			lines = append(lines, "* COMMENT: "+c)
		}
		if cp.Markups > 0 {
			lines = append(lines, fmt.Sprintf("* MARKUPS: %d", cp.Markups))
		}
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

// reelName derives an 8-character reel from the media file name.
func reelName(mediaPath string) string {
	if mediaPath == "" {
		return "AX"
	}
	base := mediaPath[strings.LastIndexAny(mediaPath, `/\`)+1:]
	if dot := strings.LastIndex(base, "."); dot > 0 {
		base = base[:dot]
	}
	var b strings.Builder
	for _, r := range strings.ToUpper(base) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() == 8 {
			break
		}
	}
	if b.Len() == 0 {
		return "AX"
	}
	return b.String()
}

// commentLines splits a comment into non-empty, control-free lines.
func commentLines(comment string) []string {
	var out []string
	for _, l := range strings.Split(comment, "\n") {
		l = strings.TrimSpace(strings.Map(func(r rune) rune {
			if unicode.IsControl(r) {
				return -1
			}
			return r
		}, l))
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

func framesToTimecode(totalFrames int, fps int) string {
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}

// framesToDropTimecode renders SMPTE drop-frame timecode for the 29.97
// and 59.94 families (fps 30 and 60). Frame numbers 0 and 1 (0-3 at 60)
// are skipped at the start of every minute except each tenth minute.
func framesToDropTimecode(totalFrames int, fps int) string {
	drop := fps / 15
	perMinute := fps*60 - drop
	perTenMinutes := fps*600 - drop*9

	tens := totalFrames / perTenMinutes
	rem := totalFrames % perTenMinutes
	n := totalFrames + drop*9*tens
	if rem > drop {
		n += drop * ((rem - drop) / perMinute)
	}

	tc := framesToTimecode(n, fps)
	return tc[:8] + ";" + tc[9:]
}
