package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type authResponse struct {
	Token string `json:"access_token"`
}

type controlFrame struct {
	Type     string `json:"type"`
	SocketID string `json:"socket_id"`
}

var received atomic.Int64

// Each simulated user joins the public room, listens on its channel and posts
// messages over REST, so every message fans out to all other users.
func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base URL")
	roomID := flag.Int64("room", 1, "public room to talk in")
	users := flag.Int("users", 100, "concurrent users")
	msgs := flag.Int("msgs", 20, "messages per user")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	log.Info("starting load test", "users", *users, "msgs", *msgs, "room_id", *roomID)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < *users; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := runUser(*baseURL, *roomID, fmt.Sprintf("load_user_%d", n), *msgs); err != nil {
				log.Warn("user failed", "user", n, "error", err)
			}
		}(i)
	}
	wg.Wait()

	// Let in-flight broadcasts drain.
	time.Sleep(2 * time.Second)
	log.Info("load test complete",
		"elapsed", time.Since(start).String(),
		"sent", *users**msgs,
		"received", received.Load())
}

func runUser(baseURL string, roomID int64, username string, msgs int) error {
	token, err := authenticate(baseURL, username, "password123")
	if err != nil {
		return err
	}

	// Joining twice across runs is fine: already_member is a 409.
	resp, err := call(baseURL, http.MethodPost, fmt.Sprintf("/api/rooms/%d/join", roomID), token, "", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("ws connect: %w", err)
	}
	defer conn.Close()

	var hello controlFrame
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("ws hello: %w", err)
	}
	if err := conn.WriteJSON(map[string]any{"action": "subscribe", "room_id": roomID}); err != nil {
		return fmt.Errorf("ws subscribe: %w", err)
	}

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			received.Add(1)
		}
	}()

	for i := 0; i < msgs; i++ {
		resp, err := call(baseURL, http.MethodPost, "/api/messages", token, hello.SocketID, map[string]any{
			"room_id": roomID,
			"content": fmt.Sprintf("LoadTest Msg %d from %s", i, username),
		})
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("send: status %d", resp.StatusCode)
		}
		// Simulate a human typing cadence instead of a tight loop.
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// authenticate registers (ignoring "username taken") and logs in.
func authenticate(baseURL, username, password string) (string, error) {
	creds := map[string]string{"username": username, "password": password}
	if resp, err := call(baseURL, http.MethodPost, "/register", "", "", creds); err == nil {
		resp.Body.Close()
	}

	resp, err := call(baseURL, http.MethodPost, "/login", "", "", creds)
	if err != nil {
		return "", fmt.Errorf("login %s: %w", username, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login %s: status %d", username, resp.StatusCode)
	}

	var data authResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("login %s: %w", username, err)
	}
	return data.Token, nil
}

func call(baseURL, method, path, token, socketID string, body any) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequest(method, baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if socketID != "" {
		req.Header.Set("X-Socket-ID", socketID)
	}
	return http.DefaultClient.Do(req)
}
