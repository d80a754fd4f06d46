// Package ingest accepts live perceptual signals over a websocket and feeds
// them to a monitored session.
//
// One connection is one session. The client opens
//
//	GET /v1/monitor?name=<candidate>&email=<address>
//
// and the server starts a session, attaches a latest-value signal source to
// it, and replies with
//
//	{"type":"session","session":{...}}
//
// The client then streams snapshot messages at whatever cadence its
// inference runs:
//
//	{"type":"snapshot","faces":[{"x":..,"y":..,"width":..,"height":..}],
//	 "labels":[{"name":"cell phone","confidence":0.9}],"audio_level":0.03}
//
// audio_pcm16 may carry a base64 window of 16-bit little-endian PCM instead
// of a precomputed audio_level, interleaved over audio_channels. Sending
//
//	{"type":"end","recording_ref":"..."}
//
// ends the session and the server answers {"type":"report","report":{...}}
// before closing. A dropped connection also ends the session; the report is
// then only available from storage.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/vigil/internal/monitor"
	"github.com/MrWong99/vigil/internal/observe"
	"github.com/MrWong99/vigil/pkg/record"
	"github.com/MrWong99/vigil/pkg/signal"
)

// Path is the route the handler is mounted on.
const Path = "/v1/monitor"

// Message types exchanged on the socket.
const (
	TypeSession  = "session"
	TypeSnapshot = "snapshot"
	TypeEnd      = "end"
	TypeReport   = "report"
	TypeError    = "error"
)

// endTimeout bounds ending a session after the client went away.
const endTimeout = 10 * time.Second

// Monitor is the session lifecycle the handler drives. *monitor.Manager
// satisfies it.
type Monitor interface {
	Start(ctx context.Context, c monitor.Candidate) (record.Session, error)
	Attach(ctx context.Context, sessionID string, src signal.Source) error
	End(ctx context.Context, sessionID string, opts monitor.EndOptions) (record.Session, record.Report, error)
}

// ClientMessage is a frame sent by the client.
type ClientMessage struct {
	Type string `json:"type"`

	// Snapshot fields, set when Type is "snapshot".
	signal.Snapshot

	// AudioPCM16 is used to derive AudioLevel when that is zero.
	AudioPCM16 []byte `json:"audio_pcm16,omitempty"`

	// AudioChannels is the interleaved channel count of AudioPCM16.
	// Zero means mono.
	AudioChannels int `json:"audio_channels,omitempty"`

	// RecordingRef, set when Type is "end".
	RecordingRef string `json:"recording_ref,omitempty"`
}

// ServerMessage is a frame sent by the server.
type ServerMessage struct {
	Type    string          `json:"type"`
	Session *record.Session `json:"session,omitempty"`
	Report  *record.Report  `json:"report,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Handler serves the monitoring websocket.
type Handler struct {
	mon            Monitor
	originPatterns []string
	readLimit      int64
}

// Option configures a [Handler].
type Option func(*Handler)

// WithOriginPatterns allows cross-origin browser clients whose Origin host
// matches one of patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.originPatterns = patterns }
}

// WithReadLimit caps the size of a single client frame. Default: 1 MiB.
func WithReadLimit(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.readLimit = n
		}
	}
}

// New creates a Handler driving mon.
func New(mon Monitor, opts ...Option) *Handler {
	h := &Handler{mon: mon, readLimit: 1 << 20}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register mounts the handler on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET "+Path, h)
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sess, err := h.mon.Start(r.Context(), monitor.Candidate{Name: q.Get("name"), Email: q.Get("email")})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, monitor.ErrInvalidCandidate) {
			status = http.StatusBadRequest
		}
		slog.Warn("ingest: start session failed", "err", err)
		http.Error(w, err.Error(), status)
		return
	}
	ctx := observe.WithSessionID(r.Context(), sess.ID)
	log := observe.Logger(ctx)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		log.Warn("ingest: websocket accept failed", "err", err)
		h.end(ctx, sess.ID, monitor.EndOptions{})
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.readLimit)

	src := signal.NewLatest()
	defer src.Close()

	if err := h.mon.Attach(ctx, sess.ID, src); err != nil {
		log.Error("ingest: attach failed", "err", err)
		_ = wsjson.Write(ctx, conn, ServerMessage{Type: TypeError, Error: "attach failed"})
		conn.Close(websocket.StatusInternalError, "attach failed")
		h.end(ctx, sess.ID, monitor.EndOptions{})
		return
	}
	if err := wsjson.Write(ctx, conn, ServerMessage{Type: TypeSession, Session: &sess}); err != nil {
		log.Warn("ingest: write session failed", "err", err)
		h.end(ctx, sess.ID, monitor.EndOptions{})
		return
	}
	log.Info("ingest: client connected", "remote", r.RemoteAddr)

	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				log.Info("ingest: client closed connection")
			} else {
				log.Warn("ingest: connection lost", "err", err)
			}
			src.Close()
			h.end(ctx, sess.ID, monitor.EndOptions{})
			return
		}

		switch msg.Type {
		case TypeSnapshot:
			snap := msg.Snapshot
			if snap.AudioLevel == 0 && len(msg.AudioPCM16) > 0 {
				snap.AudioLevel = signal.RMSPCM16(signal.Downmix16(msg.AudioPCM16, msg.AudioChannels))
			}
			src.Publish(snap)

		case TypeEnd:
			src.Close()
			_, report, err := h.end(ctx, sess.ID, monitor.EndOptions{RecordingRef: msg.RecordingRef})
			reply := ServerMessage{Type: TypeReport, Report: &report}
			if err != nil {
				reply = ServerMessage{Type: TypeError, Error: "report unavailable"}
			}
			if err := wsjson.Write(ctx, conn, reply); err != nil {
				log.Warn("ingest: write report failed", "err", err)
				return
			}
			conn.Close(websocket.StatusNormalClosure, "session ended")
			return

		default:
			log.Debug("ingest: ignoring unknown message", "type", msg.Type)
		}
	}
}

// end ends the session on a context that survives the request.
func (h *Handler) end(ctx context.Context, sessionID string, opts monitor.EndOptions) (record.Session, record.Report, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), endTimeout)
	defer cancel()
	sess, report, err := h.mon.End(ctx, sessionID, opts)
	if err != nil {
		observe.Logger(ctx).Error("ingest: end session failed", "err", err)
	}
	return sess, report, err
}
