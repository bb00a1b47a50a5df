package export

const (
	FormatEDL    = "edl"
	FormatFrames = "frames"
)

type ExportRequest struct {
	Name      string  `json:"name"`
	OutputDir string  `json:"output_dir"`
	FrameRate float64 `json:"frame_rate,omitempty"`
	// Frames limits a frame bundle to these indices. Empty means every
	// reviewed frame.
	Frames  []int `json:"frames,omitempty"`
	Overlay *bool `json:"overlay,omitempty"`
}

// WantOverlay defaults to drawing markups.
func (r ExportRequest) WantOverlay() bool {
	return r.Overlay == nil || *r.Overlay
}

type ExportResponse struct {
	Status     string `json:"status"`
	Format     string `json:"format"`
	OutputPath string `json:"output_path"`
	FrameCount int    `json:"frame_count"`
	Skipped    []int  `json:"skipped_frames,omitempty"`
}
