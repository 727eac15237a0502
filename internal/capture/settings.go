// Package capture provides the frame sources that feed the streaming server.
//
// A Source writes raw JPEG data to an io.Writer. Every Write call is one
// delivery and must start a new image with the JPEG Start-Of-Image marker
// when it begins a frame; chunks are delivered in production order.
package capture

import (
	"fmt"
	"strconv"
	"strings"
)

// Default camera settings.
const (
	DefaultResolution = "480p"
	DefaultFramerate  = 12
	DefaultQuality    = 85
)

// resolutions maps the accepted resolution names to their dimensions.
var resolutions = map[string][2]int{
	"640x480":   {640, 480},
	"480p":      {640, 480},
	"1280x720":  {1280, 720},
	"720p":      {1280, 720},
	"1920x1080": {1920, 1080},
	"1080p":     {1920, 1080},
}

// ExposureModes lists the exposure mode names understood by the Pi camera stack.
// They are forwarded to the capture command untouched.
var ExposureModes = []string{
	"off", "auto", "night", "nightpreview", "backlight", "spotlight", "sports",
	"snow", "beach", "verylong", "fixedfps", "antishake", "fireworks",
}

// Settings are the camera parameters forwarded to a frame source.
type Settings struct {
	Width     int
	Height    int
	Framerate int
	Rotation  int
	Exposure  string
	Quality   int
}

// DefaultSettings returns 480p at the default framerate and quality.
func DefaultSettings() Settings {
	return Settings{
		Width:     640,
		Height:    480,
		Framerate: DefaultFramerate,
		Quality:   DefaultQuality,
	}
}

// ParseResolution resolves a resolution name such as "720p" or "1280x720".
func ParseResolution(name string) (width, height int, err error) {
	dims, ok := resolutions[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, 0, fmt.Errorf("unknown resolution %q", name)
	}
	return dims[0], dims[1], nil
}

// ValidRotation reports whether deg is one of 0, 90, 180 or 270.
func ValidRotation(deg int) bool {
	switch deg {
	case 0, 90, 180, 270:
		return true
	}
	return false
}

// ValidExposure reports whether mode is empty or a known exposure mode.
func ValidExposure(mode string) bool {
	if mode == "" {
		return true
	}
	for _, m := range ExposureModes {
		if m == mode {
			return true
		}
	}
	return false
}

// String formats the settings for logs.
func (s Settings) String() string {
	return strconv.Itoa(s.Width) + "x" + strconv.Itoa(s.Height) +
		"@" + strconv.Itoa(s.Framerate) + "fps rot=" + strconv.Itoa(s.Rotation)
}
