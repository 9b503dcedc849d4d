package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Carelink/internal/service"
)

func newStatusCmd() *cobra.Command {
	var (
		target     string
		apiKey     string
		follow     bool
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running Carelink server",
		Long: `Fetches /api/v1/status from a running server. With --follow, stays
connected to /ws and prints decisions, queue events and connectivity
changes as they happen.`,
		Example: `  carelink status
  carelink status --url http://localhost:9090 --api-key secret
  carelink status --follow`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			st, err := fetchStatus(cmd.Context(), http.DefaultClient, target, apiKey)
			if err != nil {
				return err
			}
			if outputJSON {
				if err := writeJSON(out, st); err != nil {
					return err
				}
			} else {
				printStatus(out, st)
			}
			if !follow {
				return nil
			}
			return followEvents(cmd.Context(), target, apiKey, out)
		},
	}

	cmd.Flags().StringVar(&target, "url", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key sent as X-API-Key")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream live events over WebSocket")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")

	return cmd
}

type statusEnvelope struct {
	Success bool           `json:"success"`
	Data    service.Status `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func fetchStatus(ctx context.Context, client *http.Client, base, apiKey string) (service.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/api/v1/status", nil)
	if err != nil {
		return service.Status{}, fmt.Errorf("building request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return service.Status{}, fmt.Errorf("fetching status: %w", err)
	}
	defer resp.Body.Close()

	var env statusEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return service.Status{}, fmt.Errorf("decoding status (HTTP %d): %w", resp.StatusCode, err)
	}
	if !env.Success {
		if env.Error != nil {
			return service.Status{}, fmt.Errorf("status request failed: %s: %s", env.Error.Code, env.Error.Message)
		}
		return service.Status{}, fmt.Errorf("status request failed with HTTP %d", resp.StatusCode)
	}
	return env.Data, nil
}

func printStatus(w io.Writer, st service.Status) {
	conn := "online"
	if !st.Online {
		conn = "offline"
	}
	lastSync := "never"
	if st.LastSync != nil {
		lastSync = st.LastSync.Local().Format(time.RFC3339)
	}
	t := newTable(w, table.Row{"Connection", "Last sync", "Pending", "Dead letters", "Draining"})
	t.AppendRow(table.Row{conn, lastSync, st.PendingRequests, st.DeadLetters, st.Draining})
	t.Render()
}

// followEvents prints one line per WebSocket message until ctx is done or
// the server closes the connection.
func followEvents(ctx context.Context, base, apiKey string, w io.Writer) error {
	wsURL, err := websocketURL(base)
	if err != nil {
		return err
	}
	header := http.Header{}
	if apiKey != "" {
		header.Set("X-API-Key", apiKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", wsURL, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil
			}
			return fmt.Errorf("reading event: %w", err)
		}
		fmt.Fprintf(w, "%s %-12s %s\n", time.Now().Format("15:04:05"), msg.Type, msg.Data)
	}
}

func websocketURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", base, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	return u.String(), nil
}
