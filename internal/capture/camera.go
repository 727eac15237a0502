package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
var ErrCameraNotOpen = errors.New("camera is not open")

// Camera defines the interface for camera capture implementations.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// cameraImpl manages video capture from a camera device using GoCV.
type cameraImpl struct {
	deviceID int
	width    int
	height   int
	capture  *gocv.VideoCapture
	mu       sync.Mutex
	running  bool
	fps      int
}

// NewCamera creates a new Camera for the given device ID using the
// resolution and framerate from settings.
func NewCamera(deviceID int, settings Settings) Camera {
	fps := settings.Framerate
	if fps <= 0 {
		fps = DefaultFramerate
	}
	return &cameraImpl{
		deviceID: deviceID,
		width:    settings.Width,
		height:   settings.Height,
		fps:      fps,
	}
}

// Open opens the camera and applies the configured resolution and framerate.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(c.deviceID)
	if err != nil {
		return fmt.Errorf("open camera %d: %w", c.deviceID, err)
	}

	if c.width > 0 && c.height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(c.width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(c.height))
	}
	capture.Set(gocv.VideoCaptureFPS, float64(c.fps))

	c.capture = capture
	c.running = true

	return nil
}

// Close closes the camera and releases resources.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame from the camera.
// The caller is responsible for closing the returned Mat.
func (c *cameraImpl) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, errors.New("failed to read frame from camera")
	}

	if mat.Empty() {
		mat.Close()
		return nil, errors.New("captured frame is empty")
	}

	return &mat, nil
}

// SetFPS sets the frames per second for capture.
// Values less than or equal to 0 are ignored.
func (c *cameraImpl) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps

	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current frames per second setting.
func (c *cameraImpl) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fps
}

// IsOpen returns true if the camera is currently open and running.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}

// CameraSource reads frames from a Camera, rotates them and writes each one
// as a single JPEG chunk.
type CameraSource struct {
	camera   Camera
	rotation int
	quality  int
}

// NewCameraSource wraps camera as a Source.
func NewCameraSource(camera Camera, settings Settings) *CameraSource {
	quality := settings.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &CameraSource{
		camera:   camera,
		rotation: settings.Rotation,
		quality:  quality,
	}
}

// Name implements Source.
func (s *CameraSource) Name() string {
	return "camera"
}

// Run implements Source. The camera is opened on entry and closed on return.
func (s *CameraSource) Run(ctx context.Context, w io.Writer) error {
	if err := s.camera.Open(); err != nil {
		return err
	}
	defer s.camera.Close()

	ticker := time.NewTicker(frameInterval(s.camera.FPS()))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		data, err := s.grab()
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("deliver frame: %w", err)
		}
	}
}

// grab reads, rotates and encodes one frame.
func (s *CameraSource) grab() ([]byte, error) {
	mat, err := s.camera.ReadFrame()
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	img := *mat
	if flag, ok := rotateFlag(s.rotation); ok {
		rotated := gocv.NewMat()
		defer rotated.Close()
		gocv.Rotate(*mat, &rotated, flag)
		img = rotated
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{int(gocv.IMWriteJpegQuality), s.quality})
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	// The native buffer is freed on Close.
	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	return data, nil
}

func rotateFlag(deg int) (gocv.RotateFlag, bool) {
	switch deg {
	case 90:
		return gocv.Rotate90Clockwise, true
	case 180:
		return gocv.Rotate180Clockwise, true
	case 270:
		return gocv.Rotate90CounterClockwise, true
	}
	return 0, false
}
