package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func registerWSRoute(mux *http.ServeMux, hub *Hub) {
	mux.HandleFunc("GET /ws/stream/{id}", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade error: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()

		sessionID := r.PathValue("id")
		sub, err := hub.Connect(sessionID)
		if err != nil {
			payload, _ := json.Marshal(ErrorEvent{
				Event:   newEvent("error", time.Time{}),
				Message: "unknown session",
			})
			_ = conn.WriteMessage(websocket.TextMessage, payload)
			return
		}
		defer hub.Disconnect(sub)

		// Writer: drains the subscriber's queue; closing the connection on
		// exit unblocks the read loop when the hub detaches us.
		go func() {
			for msg := range sub.out {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					break
				}
			}
			_ = conn.Close()
		}()

		hub.AwaitReady(sub)

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var msg ClientMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				sub.send(ErrorEvent{
					Event:   newEvent("error", time.Time{}),
					Message: "malformed message",
				})
				continue
			}

			switch msg.Type {
			case "seek":
				hub.Seek(sub, msg.Time)
			case "ping":
				hub.Heartbeat(sub)
			default:
				sub.send(ErrorEvent{
					Event:   newEvent("error", time.Time{}),
					Message: "unknown message type",
				})
			}
		}
	})
}
