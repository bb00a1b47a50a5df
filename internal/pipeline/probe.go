package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Eyevinn/mp4ff/mp4"
)

var mp4Extensions = map[string]bool{
	".mp4": true,
	".mov": true,
	".m4v": true,
}

// IsMP4 reports whether path has an ISO-BMFF container extension.
func IsMP4(path string) bool {
	return mp4Extensions[strings.ToLower(filepath.Ext(path))]
}

// ProbeMP4 reads the moov box of a progressive MP4/MOV file. Fragmented
// files are rejected so the caller can fall back to ffprobe.
func ProbeMP4(path string) (*ProbeResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	file, err := mp4.DecodeFile(f, mp4.WithDecodeMode(mp4.DecModeLazyMdat))
	if err != nil {
		return nil, fmt.Errorf("decode mp4: %w", err)
	}
	if file.IsFragmented() {
		return nil, fmt.Errorf("fragmented mp4 not supported by in-process probe")
	}
	if file.Moov == nil {
		return nil, fmt.Errorf("no moov box found")
	}

	var trak *mp4.TrakBox
	for _, t := range file.Moov.Traks {
		if t.Mdia != nil && t.Mdia.Hdlr != nil && t.Mdia.Hdlr.HandlerType == "vide" {
			trak = t
			break
		}
	}
	if trak == nil {
		return nil, ErrNoVideoStream
	}
	if trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil || trak.Mdia.Minf.Stbl.Stsz == nil {
		return nil, fmt.Errorf("no sample table found")
	}
	stbl := trak.Mdia.Minf.Stbl

	res := &ProbeResult{
		FrameCount: int(stbl.Stsz.SampleNumber),
		Source:     "mp4",
	}

	if mdhd := trak.Mdia.Mdhd; mdhd != nil && mdhd.Timescale > 0 {
		res.Duration = float64(mdhd.Duration) / float64(mdhd.Timescale)
	}
	if res.Duration > 0 && res.FrameCount > 0 {
		res.FrameRate = roundRate(float64(res.FrameCount) / res.Duration)
	}

	if stbl.Stsd != nil {
		for _, child := range stbl.Stsd.Children {
			if vse, ok := child.(*mp4.VisualSampleEntryBox); ok {
				res.Width = int(vse.Width)
				res.Height = int(vse.Height)
				res.Codec = codecName(vse.Type())
				break
			}
		}
	}
	return res, nil
}

func codecName(sampleEntry string) string {
	switch sampleEntry {
	case "avc1", "avc3":
		return "h264"
	case "hvc1", "hev1":
		return "hevc"
	case "av01":
		return "av1"
	case "vp08":
		return "vp8"
	case "vp09":
		return "vp9"
	default:
		return sampleEntry
	}
}

type ffprobeOutput struct {
	Streams []struct {
		CodecName     string `json:"codec_name"`
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		RFrameRate    string `json:"r_frame_rate"`
		AvgFrameRate  string `json:"avg_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
		Duration      string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ParseFFprobe converts `ffprobe -of json` output for the first video
// stream into a ProbeResult. The frame count prefers nb_frames, then
// nb_read_packets, then duration times frame rate.
func ParseFFprobe(data []byte) (*ProbeResult, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}
	if len(out.Streams) == 0 {
		return nil, ErrNoVideoStream
	}
	s := out.Streams[0]

	res := &ProbeResult{
		Width:  s.Width,
		Height: s.Height,
		Codec:  s.CodecName,
		Source: "ffprobe",
	}

	res.FrameRate = parseRational(s.AvgFrameRate)
	if res.FrameRate == 0 {
		res.FrameRate = parseRational(s.RFrameRate)
	}

	res.Duration = parseFloat(s.Duration)
	if res.Duration == 0 {
		res.Duration = parseFloat(out.Format.Duration)
	}

	switch {
	case parseInt(s.NbFrames) > 0:
		res.FrameCount = parseInt(s.NbFrames)
	case parseInt(s.NbReadPackets) > 0:
		res.FrameCount = parseInt(s.NbReadPackets)
	case res.Duration > 0 && res.FrameRate > 0:
		res.FrameCount = int(math.Round(res.Duration * res.FrameRate))
	}
	return res, nil
}

// parseRational parses "30000/1001" or "25" into a rate. Zero
// denominators and malformed input yield 0.
func parseRational(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return parseFloat(s)
	}
	n := parseFloat(num)
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return roundRate(n / d)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func parseInt(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return v
}

func roundRate(r float64) float64 {
	return math.Round(r*1000) / 1000
}
