package render

import (
	"context"
	"encoding/json"
	"os/exec"
	"strconv"

	"github.com/pkg/errors"
)

// VideoInfo is what ffprobe reports about a rendered video.
type VideoInfo struct {
	Duration float64 `json:"duration"`
	Size     int64   `json:"size"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Codec    string  `json:"codec"`
	FPS      string  `json:"fps"`
}

type Prober interface {
	Probe(ctx context.Context, path string) (*VideoInfo, error)
}

// FFProbe shells out to ffprobe.
type FFProbe struct {
	Binary string
}

// NewFFProbe returns nil when ffprobe is not installed.
func NewFFProbe() *FFProbe {
	path, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil
	}
	return &FFProbe{Binary: path}
}

func (p *FFProbe) Probe(ctx context.Context, path string) (*VideoInfo, error) {
	out, err := exec.CommandContext(ctx, p.Binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	).Output()
	if err != nil {
		return nil, errors.Wrap(err, "ffprobe")
	}
	return parseProbe(out)
}

func parseProbe(data []byte) (*VideoInfo, error) {
	var probe struct {
		Streams []struct {
			CodecType    string `json:"codec_type"`
			CodecName    string `json:"codec_name"`
			Width        int    `json:"width"`
			Height       int    `json:"height"`
			AvgFrameRate string `json:"avg_frame_rate"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
			Size     string `json:"size"`
		} `json:"format"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, errors.Wrap(err, "parse ffprobe output")
	}

	info := &VideoInfo{}
	if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		info.Duration = d
	}
	if s, err := strconv.ParseInt(probe.Format.Size, 10, 64); err == nil {
		info.Size = s
	}
	for _, s := range probe.Streams {
		if s.CodecType != "video" {
			continue
		}
		info.Width, info.Height = s.Width, s.Height
		info.Codec = s.CodecName
		info.FPS = s.AvgFrameRate
		break
	}
	return info, nil
}
