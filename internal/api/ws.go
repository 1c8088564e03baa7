package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 1024,
	// The trainee page is served from a different origin in development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleAudioWS is the microphone ingest endpoint. The client streams raw
// 16 kHz mono 16-bit PCM as binary frames; a text "stop" message or a close
// frame ends the stream. Framing into fixed-size chunks happens server-side,
// so the client may send whatever sizes its capture API produces.
func (s *Server) handleAudioWS(w http.ResponseWriter, r *http.Request) {
	attemptID := r.URL.Query().Get("attempt")
	if attemptID == "" {
		WriteError(w, http.StatusBadRequest, "attempt query parameter is required")
		return
	}
	a, ok := s.attempts.Get(attemptID)
	if !ok {
		WriteError(w, http.StatusNotFound, "attempt not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := hlog.FromRequest(r).With().Str("attempt", a.ID).Logger()
	log.Info().Msg("audio stream opened")

readLoop:
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("audio stream closed unexpectedly")
			}
			break
		}

		switch mt {
		case websocket.BinaryMessage:
			a.Chunker.Write(data)
		case websocket.TextMessage:
			if strings.EqualFold(strings.TrimSpace(string(data)), "stop") {
				log.Debug().Msg("stop control message received")
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stopped"))
				break readLoop
			}
		}
	}

	stats := a.Chunker.Stats()
	log.Info().
		Uint64("bytes_in", stats.BytesIn).
		Uint64("frames", stats.FramesEmitted).
		Msg("audio stream closed")
}
