package cmd

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"batchroute/pkg/api"
)

var watchCmd = &cobra.Command{
	Use:   "watch [jobId]",
	Short: "Stream live progress for a job over the WebSocket channel",
	Long:  `Connect to the server's WebSocket progress channel and print each job_update event as it arrives, until the job reaches a terminal state or Ctrl+C is pressed.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]

		wsURL, err := wsURLFrom(viper.GetString("url"))
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			cmd.Printf("Error connecting to %s: %v\n", wsURL, err)
			return
		}
		defer conn.Close()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigChan
			conn.Close()
			os.Exit(0)
		}()

		if err := conn.WriteJSON(api.WSClientMessage{Event: "subscribe", JobID: jobID}); err != nil {
			cmd.Printf("Error subscribing: %v\n", err)
			return
		}

		for {
			var msg api.WSServerMessage
			if err := conn.ReadJSON(&msg); err != nil {
				cmd.Printf("connection closed: %v\n", err)
				return
			}
			if msg.Event != "job_update" || msg.JobID != jobID {
				continue
			}

			p := msg.Data.Progress
			if p != nil {
				cmd.Printf("%s %d/%d processed (%d ok, %d failed)\n",
					colorizeStatus(msg.Data.Status), p.Processed, p.Total, p.Successful, p.Failed)
			} else {
				cmd.Printf("%s\n", colorizeStatus(msg.Data.Status))
			}

			if msg.Data.Status == api.JobCompleted || msg.Data.Status == api.JobFailed {
				return
			}
		}
	},
}

// wsURLFrom rewrites an http(s):// base URL into its ws(s):// equivalent
// pointing at the progress channel endpoint.
func wsURLFrom(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid --url %q: %w", base, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	return u.String(), nil
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
