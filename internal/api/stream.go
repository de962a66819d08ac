package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/votingplatform/election-ledger/internal/ledger"
)

const (
	streamBuffer     = 256
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// streamEntries handles GET /api/ledger/stream. Each appended entry is sent
// as one JSON text message. With ?after=<id> the entries after id are
// replayed first, so a client that reconnects misses nothing. A client that
// falls behind the live feed is disconnected with CloseTryAgainLater and the
// last id it was sent.
func (h *Handler) streamEntries(w http.ResponseWriter, r *http.Request) {
	after, err := parseInt(r.URL.Query(), "after")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	clientID := uuid.New().String()
	log.Debugf("Stream client %s connected from %s", clientID, r.RemoteAddr)
	defer log.Debugf("Stream client %s disconnected", clientID)

	// Subscribe before replaying so nothing appended in between is lost.
	entries, cancel := h.svc.Subscribe(h.opts.StreamBuffer)
	defer cancel()

	lastSent := after
	if r.URL.Query().Has("after") {
		backlog, err := h.svc.Query(r.Context(), ledger.ListOptions{AfterID: after})
		if err != nil {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "ledger unavailable"))
			return
		}
		for _, e := range backlog {
			if err := writeEntry(conn, e); err != nil {
				return
			}
			lastSent = e.ID
		}
	}

	// The read loop only serves control frames and notices the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case e, ok := <-entries:
			if !ok {
				closeStream(conn, h.svc.Closed(), lastSent)
				return
			}
			if e.ID <= lastSent {
				continue
			}
			if err := writeEntry(conn, e); err != nil {
				return
			}
			lastSent = e.ID
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEntry(conn *websocket.Conn, e ledger.Entry) error {
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := conn.WriteJSON(e); err != nil {
		log.Debugf("Stream write of entry %d failed: %v", e.ID, err)
		return err
	}
	return nil
}

// closeStream ends the feed after its subscription was cancelled, either by
// shutdown or because the client fell behind.
func closeStream(conn *websocket.Conn, shutdown bool, lastSent int64) {
	code, reason := websocket.CloseGoingAway, "ledger shutting down"
	if !shutdown {
		code, reason = websocket.CloseTryAgainLater, "fell behind; reconnect with after="+strconv.FormatInt(lastSent, 10)
		log.Warnf("Stream client fell behind after entry %d, disconnecting", lastSent)
	}
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}
