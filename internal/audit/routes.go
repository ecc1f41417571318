package audit

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RegisterRoutes mounts audit endpoints under /api/audit. feed may be
// nil, disabling the live stream.
func RegisterRoutes(r chi.Router, store *Store, feed *Feed) {
	r.Route("/api/audit", func(r chi.Router) {
		r.Get("/", handleQuery(store))
		if feed != nil {
			r.Get("/stream", handleStream(feed))
		}
	})
}

func handleQuery(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		filter := QueryFilter{
			EntityType: q.Get("entity_type"),
			EntityID:   q.Get("entity_id"),
			EventType:  q.Get("event_type"),
			ActorID:    q.Get("actor"),
		}
		if v := q.Get("since"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				filter.Since = &t
			}
		}
		if v := q.Get("until"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				filter.Until = &t
			}
		}
		if v := q.Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				filter.Limit = n
			}
		}
		if v := q.Get("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				filter.Offset = n
			}
		}

		workspace := q.Get("workspace")
		if workspace == "" {
			workspace = "default"
		}

		events, err := store.Query(r.Context(), workspace, filter)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if events == nil {
			events = []Event{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(events)
	}
}

// handleStream pushes new audit events over a websocket as they are
// logged.
func handleStream(feed *Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		events, cancel := feed.Subscribe()
		defer cancel()

		// Drain client frames so pings and close messages are handled.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					cancel()
					return
				}
			}
		}()

		for e := range events {
			if err := conn.WriteJSON(e); err != nil {
				log.Printf("audit stream write failed: %v", err)
				return
			}
		}
	}
}
