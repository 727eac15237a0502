package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ayusman/picam/internal/frame"
	"github.com/ayusman/picam/internal/store"
)

// boundary separates the parts of the MJPEG stream.
const boundary = "FRAME"

// Reasons recorded when a stream client goes away.
const (
	reasonClientGone = "client disconnected"
	reasonShutdown   = "server shutdown"
	reasonClosed     = "frame buffer closed"
)

// streamHandler serves /stream.mjpg as multipart/x-mixed-replace. Each
// connection runs its own WaitNext loop, so a slow client only ever delays
// itself and skips whatever frames it missed.
type streamHandler struct {
	server *Server
}

func (h *streamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s := h.server
	c, ok := s.admit(w, r, store.TransportMJPEG)
	if !ok {
		return
	}

	ctx, cancel := s.streamContext(r)
	defer cancel()

	hdr := w.Header()
	hdr.Set("Age", "0")
	hdr.Set("Cache-Control", "no-cache, private")
	hdr.Set("Pragma", "no-cache")
	hdr.Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		s.release(c, reasonClientGone, err)
		return
	}

	var last uint64
	for {
		f, gen, err := s.config.Frames.WaitNext(ctx, last)
		if err != nil {
			s.release(c, s.stopReason(err), nil)
			return
		}

		n, err := h.writeFrame(rc, w, f)
		if err != nil {
			s.release(c, reasonClientGone, err)
			return
		}

		c.sent(gen, n)
		last = gen
	}
}

// writeFrame writes one multipart part in a single write and flushes it.
func (h *streamHandler) writeFrame(rc *http.ResponseController, w http.ResponseWriter, f frame.Frame) (int, error) {
	if timeout := h.server.config.WriteTimeout; timeout > 0 {
		err := rc.SetWriteDeadline(time.Now().Add(timeout))
		if err != nil && !errors.Is(err, http.ErrNotSupported) {
			return 0, err
		}
	}

	part := appendPart(make([]byte, 0, len(f)+96), f)
	if _, err := w.Write(part); err != nil {
		return 0, err
	}
	if err := rc.Flush(); err != nil {
		return 0, err
	}
	return len(f), nil
}

// appendPart appends one multipart part carrying f to dst.
func appendPart(dst []byte, f frame.Frame) []byte {
	dst = append(dst, "--"+boundary+"\r\n"...)
	dst = append(dst, "Content-Type: image/jpeg\r\n"...)
	dst = append(dst, "Content-Length: "...)
	dst = strconv.AppendInt(dst, int64(len(f)), 10)
	dst = append(dst, "\r\n\r\n"...)
	dst = append(dst, f...)
	return append(dst, "\r\n"...)
}

// admit registers a new stream client, answering 503 when the server is at
// its client cap or shutting down.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, transport store.Transport) (*client, bool) {
	if s.shuttingDown() {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return nil, false
	}

	c := newClient(r, transport)
	if !s.clients.add(c) {
		s.log.Warn().
			Str("remote", r.RemoteAddr).
			Int("max_clients", s.config.MaxClients).
			Msg("rejected stream client: too many clients")
		w.Header().Set("Retry-After", "1")
		http.Error(w, "Too many clients", http.StatusServiceUnavailable)
		return nil, false
	}
	s.handlers.Add(1)

	if s.config.Store != nil {
		sess := &store.Session{
			ID:         c.id,
			Transport:  transport,
			RemoteAddr: c.remoteAddr,
			UserAgent:  c.userAgent,
			StartedAt:  c.connectedAt,
		}
		if err := s.config.Store.Sessions().Create(sess); err != nil {
			s.log.Warn().Err(err).Str("client", c.id).Msg("failed to record session")
		}
	}

	s.log.Info().
		Str("client", c.id).
		Str("remote", c.remoteAddr).
		Str("transport", string(transport)).
		Msg("stream client connected")
	return c, true
}

// release unregisters c and closes its session. A client going away is a
// normal per-client event, so it is logged and never propagated.
func (s *Server) release(c *client, reason string, cause error) {
	defer s.handlers.Done()

	// The session is closed before the client leaves the registry, so a
	// client count of zero means every session has been finished.
	frames, bytes := c.frames.Load(), c.bytes.Load()
	if s.config.Store != nil {
		if err := s.config.Store.Sessions().Finish(c.id, frames, bytes, reason); err != nil {
			s.log.Warn().Err(err).Str("client", c.id).Msg("failed to finish session")
		}
	}
	s.clients.remove(c.id)

	ev := s.log.Info()
	if cause != nil {
		ev = ev.AnErr("cause", cause)
	}
	ev.Str("client", c.id).
		Str("remote", c.remoteAddr).
		Str("reason", reason).
		Uint64("frames", frames).
		Uint64("bytes", bytes).
		Msg("removed stream client")
}

// stopReason maps the error that ended a WaitNext loop to a session reason.
func (s *Server) stopReason(err error) string {
	switch {
	case errors.Is(err, frame.ErrClosed):
		return reasonClosed
	case s.shuttingDown():
		return reasonShutdown
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return reasonClientGone
	default:
		return fmt.Sprintf("wait: %v", err)
	}
}
