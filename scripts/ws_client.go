// Package main runs a demo WebSocket client for plan events: it plans a
// small day, subscribes to the user's plan stream, then posts a delay event
// and prints the replanned itinerary as it arrives.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)
	userID := "u_demo"

	day := time.Now().UTC().Truncate(24 * time.Hour).Add(8 * time.Hour)
	plan := map[string]any{
		"userId": userID,
		"anchor": map[string]any{"point": map[string]float64{"lat": 37.7749, "lng": -122.4194}},
		"anchorTime": day.Format(time.RFC3339),
		"horizon": map[string]string{
			"start": day.Format(time.RFC3339),
			"end":   day.Add(12 * time.Hour).Format(time.RFC3339),
		},
		"stops": []map[string]any{
			{
				"id":         "groceries",
				"location":   map[string]any{"point": map[string]float64{"lat": 37.7849, "lng": -122.4094}},
				"serviceSec": 1200,
			},
			{
				"id":         "dentist",
				"location":   map[string]any{"point": map[string]float64{"lat": 37.7649, "lng": -122.4294}},
				"serviceSec": 1800,
				"window": map[string]string{
					"earliestStart": day.Add(2 * time.Hour).Format(time.RFC3339),
					"latestStart":   day.Add(3 * time.Hour).Format(time.RFC3339),
				},
				"priority": 2,
			},
		},
	}
	body, _ := json.Marshal(plan)
	resp, err := http.Post(base+"/v1/plan", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var planResp struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&planResp); err != nil {
		log.Fatal(err)
	}
	log.Printf("plan status: %s", planResp.Status)

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/plans/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	pl, _ := json.Marshal(map[string]string{"userId": userID})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	// Trigger a replan via a delay event
	time.Sleep(500 * time.Millisecond)
	evt := map[string]any{
		"userId": userID,
		"event": map[string]any{
			"type":             "task_delayed",
			"stopId":           "dentist",
			"newEarliestStart": day.Add(4 * time.Hour).Format(time.RFC3339),
		},
	}
	eb, _ := json.Marshal(evt)
	_, _ = http.Post(base+"/v1/events", "application/json", bytes.NewReader(eb))

	// Wait long enough for the debounce window plus the solve
	select {
	case <-time.After(8 * time.Second):
	case <-done:
	}
}
