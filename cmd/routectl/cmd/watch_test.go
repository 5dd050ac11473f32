package cmd

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/viper"

	"batchroute/pkg/api"
)

func TestWsURLFromHTTP(t *testing.T) {
	got, err := wsURLFrom("http://localhost:6161")
	if err != nil {
		t.Fatalf("wsURLFrom: %v", err)
	}
	if got != "ws://localhost:6161/ws" {
		t.Errorf("expected ws://localhost:6161/ws, got %s", got)
	}
}

func TestWsURLFromHTTPS(t *testing.T) {
	got, err := wsURLFrom("https://example.com")
	if err != nil {
		t.Fatalf("wsURLFrom: %v", err)
	}
	if got != "wss://example.com/ws" {
		t.Errorf("expected wss://example.com/ws, got %s", got)
	}
}

func TestWsURLFromInvalid(t *testing.T) {
	if _, err := wsURLFrom("://not a url"); err == nil {
		t.Error("expected an error for an invalid base URL")
	}
}

var watchUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func TestWatchCommand_PrintsUntilTerminal(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := watchUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade: %v", err)
		}
		defer conn.Close()

		var sub api.WSClientMessage
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}

		conn.WriteJSON(api.WSServerMessage{
			Event: "job_update",
			JobID: sub.JobID,
			Data: api.WSServerPayload{
				Status:   api.JobProcessing,
				Progress: &api.Progress{Total: 2, Processed: 1, Successful: 1},
			},
		})
		conn.WriteJSON(api.WSServerMessage{
			Event: "job_update",
			JobID: sub.JobID,
			Data:  api.WSServerPayload{Status: api.JobCompleted},
		})
	}))
	defer server.Close()
	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"watch", "job-1"})

	done := make(chan struct{})
	go func() {
		rootCmd.Execute()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watch command did not exit after a terminal event")
	}

	output := stdout.String()
	if !strings.Contains(output, "1/2") {
		t.Errorf("expected progress counters in output, got: %s", output)
	}
	if !strings.Contains(output, "completed") {
		t.Errorf("expected the terminal status in output, got: %s", output)
	}
}
