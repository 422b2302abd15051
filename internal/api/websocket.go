package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/giantswarm/llm-verdict/internal/testrun"
)

const writeWait = 10 * time.Second

// watchMessage is the frame sent to websocket observers.
type watchMessage struct {
	Status  testrun.Status  `json:"status"`
	Reason  string          `json:"reason,omitempty"`
	Results testrun.Results `json:"results"`
}

// handleWatch pushes every snapshot the publisher receives for the run and
// closes the connection once the run is terminal. Runs executed by another
// process never publish here, so the snapshot is also re-read every poll
// interval.
func (a *API) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	updates, unsubscribe, err := a.snapshots.Subscribe(r.Context(), id)
	if err != nil {
		writeLookupError(w, id, err)
		return
	}
	defer unsubscribe()

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "run_id", id, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The reader notices the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var last *testrun.Snapshot
	send := func(snap testrun.Snapshot) error {
		if last != nil && !progressed(*last, snap) {
			return nil
		}
		last = &snap
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(watchMessage{
			Status:  snap.Status,
			Reason:  snap.Reason,
			Results: snap.Results,
		})
	}

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				closeFinished(conn)
				return
			}
			if err := send(snap); err != nil {
				slog.Debug("websocket watch ended", "run_id", id, "error", err)
				return
			}
		case <-ticker.C:
			snap, err := a.snapshots.Read(ctx, id)
			if err != nil {
				slog.Debug("websocket watch ended", "run_id", id, "error", err)
				return
			}
			if err := send(snap); err != nil {
				slog.Debug("websocket watch ended", "run_id", id, "error", err)
				return
			}
			if snap.Status.Terminal() {
				closeFinished(conn)
				return
			}
		}
	}
}

// progressed reports whether next carries anything the observer has not seen.
// Results only grow, so comparing counts is enough.
func progressed(prev, next testrun.Snapshot) bool {
	if prev.Status != next.Status || prev.Reason != next.Reason {
		return true
	}
	return next.Results.Count() != prev.Results.Count()
}

func closeFinished(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
