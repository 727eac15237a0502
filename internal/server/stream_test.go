package server

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"testing"
	"time"

	"github.com/mattn/go-mjpeg"
	"github.com/rs/zerolog"

	"github.com/ayusman/picam/internal/frame"
)

var (
	frameOne = frame.Frame{0xFF, 0xD8, 'o', 'n', 'e', 0xFF, 0xD9}
	frameTwo = frame.Frame{0xFF, 0xD8, 't', 'w', 'o', '!', 0xFF, 0xD9}
)

// newStreamServer starts an httptest server. The buffer is closed before the
// server so that open streams end and Close does not block.
func newStreamServer(t *testing.T, cfg Config) (*Server, *httptest.Server, *frame.Buffer) {
	t.Helper()

	buf := frame.NewBuffer()
	cfg.Frames = buf
	cfg.Logger = zerolog.Nop()
	s := New(cfg)

	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	t.Cleanup(buf.Close)
	return s, ts, buf
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func openStream(t *testing.T, ts *httptest.Server) *http.Response {
	t.Helper()
	resp, err := ts.Client().Get(ts.URL + "/stream.mjpg")
	if err != nil {
		t.Fatalf("GET /stream.mjpg error = %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readPart(t *testing.T, r io.Reader, f frame.Frame) {
	t.Helper()

	want := "--FRAME\r\nContent-Type: image/jpeg\r\nContent-Length: " +
		strconv.Itoa(len(f)) + "\r\n\r\n" + string(f) + "\r\n"

	got := make([]byte, len(want))
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatalf("failed to read part: %v", err)
	}
	if string(got) != want {
		t.Fatalf("part = %q, want %q", got, want)
	}
}

// nextPart reads one part of unknown size and returns its payload.
func nextPart(t *testing.T, r *bufio.Reader) []byte {
	t.Helper()

	tp := textproto.NewReader(r)
	line, err := tp.ReadLine()
	if err != nil {
		t.Fatalf("failed to read boundary: %v", err)
	}
	if line != "--FRAME" {
		t.Fatalf("boundary = %q, want --FRAME", line)
	}
	hdr, err := tp.ReadMIMEHeader()
	if err != nil {
		t.Fatalf("failed to read part header: %v", err)
	}
	n, err := strconv.Atoi(hdr.Get("Content-Length"))
	if err != nil {
		t.Fatalf("bad Content-Length %q", hdr.Get("Content-Length"))
	}

	payload := make([]byte, n+2)
	if _, err := io.ReadFull(r, payload); err != nil {
		t.Fatalf("failed to read payload: %v", err)
	}
	return payload[:n]
}

func TestStream_Headers(t *testing.T) {
	_, ts, _ := newStreamServer(t, Config{})

	resp := openStream(t, ts)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	want := map[string]string{
		"Age":           "0",
		"Cache-Control": "no-cache, private",
		"Pragma":        "no-cache",
		"Content-Type":  "multipart/x-mixed-replace; boundary=FRAME",
	}
	for k, v := range want {
		if got := resp.Header.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestStream_DeliversFramesInOrder(t *testing.T) {
	s, ts, buf := newStreamServer(t, Config{})

	resp := openStream(t, ts)
	body := bufio.NewReader(resp.Body)
	waitFor(t, "client to wait for a frame", func() bool {
		return s.ClientCount() == 1 && buf.Stats().Waiters == 1
	})

	buf.Publish(frameOne)
	readPart(t, body, frameOne)

	buf.Publish(frameTwo)
	readPart(t, body, frameTwo)

	clients := s.Clients()
	if len(clients) != 1 {
		t.Fatalf("Clients() = %d entries, want 1", len(clients))
	}
	waitFor(t, "counters", func() bool {
		return s.Clients()[0].FramesSent == 2
	})
	info := s.Clients()[0]
	if info.LastGeneration != 2 {
		t.Errorf("LastGeneration = %d, want 2", info.LastGeneration)
	}
	if info.BytesSent != uint64(len(frameOne)+len(frameTwo)) {
		t.Errorf("BytesSent = %d, want %d", info.BytesSent, len(frameOne)+len(frameTwo))
	}
}

func TestStream_NewClientGetsCurrentFrame(t *testing.T) {
	_, ts, buf := newStreamServer(t, Config{})

	buf.Publish(frameOne)
	buf.Publish(frameTwo)

	resp := openStream(t, ts)
	readPart(t, bufio.NewReader(resp.Body), frameTwo)
}

func TestStream_DisconnectDoesNotAffectOthers(t *testing.T) {
	s, ts, buf := newStreamServer(t, Config{})

	first := openStream(t, ts)
	second := openStream(t, ts)
	body := bufio.NewReader(second.Body)
	waitFor(t, "two clients", func() bool { return s.ClientCount() == 2 })

	buf.Publish(frameOne)
	if got := nextPart(t, body); string(got) != string(frameOne) {
		t.Fatalf("second client got %v, want %v", got, frameOne)
	}

	first.Body.Close()
	waitFor(t, "first client to be removed", func() bool { return s.ClientCount() == 1 })

	buf.Publish(frameTwo)
	if got := nextPart(t, body); string(got) != string(frameTwo) {
		t.Errorf("second client got %v, want %v", got, frameTwo)
	}
}

func TestStream_ClientCap(t *testing.T) {
	s, ts, _ := newStreamServer(t, Config{MaxClients: 1})

	openStream(t, ts)
	waitFor(t, "first client", func() bool { return s.ClientCount() == 1 })

	resp, err := ts.Client().Get(ts.URL + "/stream.mjpg")
	if err != nil {
		t.Fatalf("GET /stream.mjpg error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
	if resp.Header.Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", resp.Header.Get("Retry-After"))
	}
	if s.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", s.ClientCount())
	}
}

func TestStream_BufferCloseEndsStream(t *testing.T) {
	s, ts, buf := newStreamServer(t, Config{})

	resp := openStream(t, ts)
	waitFor(t, "client", func() bool { return s.ClientCount() == 1 })

	buf.Close()

	if _, err := io.ReadAll(resp.Body); err != nil {
		t.Fatalf("stream should end cleanly, got %v", err)
	}
	waitFor(t, "client removal", func() bool { return s.ClientCount() == 0 })
}

func TestStream_DecodesWithMJPEGClient(t *testing.T) {
	s, ts, buf := newStreamServer(t, Config{})

	resp := openStream(t, ts)
	dec, err := mjpeg.NewDecoderFromResponse(resp)
	if err != nil {
		t.Fatalf("NewDecoderFromResponse() error = %v", err)
	}
	waitFor(t, "client to wait", func() bool { return buf.Stats().Waiters == 1 })

	buf.Publish(frameOne)
	waitFor(t, "first frame sent", func() bool {
		c := s.Clients()
		return len(c) == 1 && c[0].FramesSent == 1
	})
	// The multipart reader only finishes a part once the next boundary shows up.
	buf.Publish(frameTwo)

	raw, err := dec.DecodeRaw()
	if err != nil {
		t.Fatalf("DecodeRaw() error = %v", err)
	}
	if string(raw) != string(frameOne) {
		t.Errorf("DecodeRaw() = %v, want %v", raw, frameOne)
	}
}

func TestStream_ExactPartBytes(t *testing.T) {
	s, ts, buf := newStreamServer(t, Config{})

	f1 := frame.Frame(bytes.Repeat([]byte{0x01}, 10))
	f2 := frame.Frame(bytes.Repeat([]byte{0x02}, 10))

	resp := openStream(t, ts)
	waitFor(t, "client to wait for a frame", func() bool {
		return s.ClientCount() == 1 && buf.Stats().Waiters == 1
	})

	buf.Publish(f1)
	readPart(t, resp.Body, f1)
	buf.Publish(f2)
	readPart(t, resp.Body, f2)
}
