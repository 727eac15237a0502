package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"github.com/ayusman/picam/internal/frame"
)

// maxFrameSize bounds a single image read from a command's output.
const maxFrameSize = 8 << 20

// CommandSource runs a capture program that writes an MJPEG stream to stdout,
// such as libcamera-vid, and delivers the images it produces.
type CommandSource struct {
	argv []string
}

// NewCommandSource creates a source running argv. An empty argv runs
// libcamera-vid with arguments derived from settings.
func NewCommandSource(argv []string, settings Settings) *CommandSource {
	if len(argv) == 0 {
		argv = LibcameraArgs(settings)
	}
	return &CommandSource{argv: argv}
}

// LibcameraArgs builds a libcamera-vid command line streaming MJPEG to stdout.
func LibcameraArgs(s Settings) []string {
	argv := []string{
		"libcamera-vid", "-t", "0", "-n",
		"--codec", "mjpeg",
		"--width", strconv.Itoa(s.Width),
		"--height", strconv.Itoa(s.Height),
		"--framerate", strconv.Itoa(s.Framerate),
	}
	if s.Rotation != 0 {
		argv = append(argv, "--rotation", strconv.Itoa(s.Rotation))
	}
	if s.Quality > 0 {
		argv = append(argv, "-q", strconv.Itoa(s.Quality))
	}
	if s.Exposure != "" && s.Exposure != "auto" {
		argv = append(argv, "--exposure", s.Exposure)
	}
	return append(argv, "-o", "-")
}

// Name implements Source.
func (s *CommandSource) Name() string {
	return "command"
}

// Argv returns the command line the source runs.
func (s *CommandSource) Argv() []string {
	return s.argv
}

// Run implements Source. The command is killed when ctx is cancelled; an
// unexpected exit is reported as an error.
func (s *CommandSource) Run(ctx context.Context, w io.Writer) error {
	if len(s.argv) == 0 {
		return errors.New("capture command is empty")
	}

	cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("capture command setup: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("capture command start: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 128*1024), maxFrameSize)
	scanner.Split(frame.SplitJPEG)

	var deliverErr error
	for scanner.Scan() {
		if _, err := w.Write(scanner.Bytes()); err != nil {
			deliverErr = fmt.Errorf("deliver frame: %w", err)
			break
		}
	}
	scanErr := scanner.Err()

	if deliverErr != nil || scanErr != nil {
		cmd.Process.Kill()
	}
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil
	}
	switch {
	case deliverErr != nil:
		return deliverErr
	case scanErr != nil:
		return fmt.Errorf("capture command read: %w", scanErr)
	case waitErr != nil:
		return fmt.Errorf("capture command exited: %w", waitErr)
	}
	return fmt.Errorf("capture command %s exited", s.argv[0])
}
