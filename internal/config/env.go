package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v10"
)

// defaultVideoTotalPixels is the total pixel budget applied when only
// VIDEO_MAX_PIXELS is set: 128000 tokens of 28x28 patches at 90%.
const defaultVideoTotalPixels = 128000 * 28 * 28 * 9 / 10

// VisionSettings are the image and video preprocessing limits read by the
// vision utilities of Qwen2-VL style models, plus the audio switch of the
// omni models. Every field can be overridden through the environment.
type VisionSettings struct {
	ImageFactor      int     `env:"IMAGE_FACTOR" envDefault:"28" json:"image_factor"`
	MinPixels        int     `env:"MIN_PIXELS" envDefault:"3136" json:"min_pixels"`
	MaxPixels        int     `env:"MAX_PIXELS" envDefault:"12845056" json:"max_pixels"`
	MaxRatio         int     `env:"MAX_RATIO" envDefault:"200" json:"max_ratio"`
	VideoMinPixels   int     `env:"VIDEO_MIN_PIXELS" envDefault:"100352" json:"video_min_pixels"`
	VideoMaxPixels   int     `env:"VIDEO_MAX_PIXELS" envDefault:"602112" json:"video_max_pixels"`
	VideoTotalPixels int     `env:"VIDEO_TOTAL_PIXELS" envDefault:"90316800" json:"video_total_pixels"`
	FrameFactor      int     `env:"FRAME_FACTOR" envDefault:"2" json:"frame_factor"`
	FPS              float64 `env:"FPS" envDefault:"2.0" json:"fps"`
	FPSMinFrames     int     `env:"FPS_MIN_FRAMES" envDefault:"4" json:"fps_min_frames"`
	FPSMaxFrames     int     `env:"FPS_MAX_FRAMES" envDefault:"768" json:"fps_max_frames"`

	EnableAudioOutput bool `env:"ENABLE_AUDIO_OUTPUT" envDefault:"true" json:"enable_audio_output"`
}

// LoadVisionSettings reads VisionSettings from environ, or from the process
// environment when environ is nil.
//
// When VIDEO_MAX_PIXELS is set without VIDEO_TOTAL_PIXELS, the total budget
// is pinned to the 128000-token default rather than derived from the
// per-frame limit.
func LoadVisionSettings(environ map[string]string) (VisionSettings, error) {
	if environ == nil {
		environ = env.ToMap(os.Environ())
	}
	if _, ok := environ["VIDEO_MAX_PIXELS"]; ok {
		if _, ok := environ["VIDEO_TOTAL_PIXELS"]; !ok {
			copied := make(map[string]string, len(environ)+1)
			for k, v := range environ {
				copied[k] = v
			}
			copied["VIDEO_TOTAL_PIXELS"] = strconv.Itoa(defaultVideoTotalPixels)
			environ = copied
		}
	}

	var s VisionSettings
	if err := env.ParseWithOptions(&s, env.Options{Environment: environ}); err != nil {
		return VisionSettings{}, fmt.Errorf("failed to parse vision settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return VisionSettings{}, err
	}
	return s, nil
}

// Validate checks that the limits are usable.
func (s VisionSettings) Validate() error {
	var problems []string
	if s.ImageFactor <= 0 {
		problems = append(problems, "IMAGE_FACTOR must be positive")
	}
	if s.MinPixels > s.MaxPixels {
		problems = append(problems, "MIN_PIXELS exceeds MAX_PIXELS")
	}
	if s.VideoMinPixels > s.VideoMaxPixels {
		problems = append(problems, "VIDEO_MIN_PIXELS exceeds VIDEO_MAX_PIXELS")
	}
	if s.FPS <= 0 {
		problems = append(problems, "FPS must be positive")
	}
	if s.FPSMinFrames > s.FPSMaxFrames {
		problems = append(problems, "FPS_MIN_FRAMES exceeds FPS_MAX_FRAMES")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid vision settings: %s", strings.Join(problems, "; "))
	}
	return nil
}
