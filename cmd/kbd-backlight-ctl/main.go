package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// ============================================================================
// kbd-backlight-ctl - status client for kbd-backlightd
// ============================================================================
// Talks to the daemon's status server (status_listen in the daemon config).
//
// Usage:
//   kbd-backlight-ctl status
//   kbd-backlight-ctl status --json
//   kbd-backlight-ctl watch
// ============================================================================

const defaultAddr = "127.0.0.1:7842"

var (
	addr    string
	rawJSON bool
)

// snapshot mirrors the daemon's /state payload.
type snapshot struct {
	Mode         string    `json:"mode"`
	Brightness   int       `json:"brightness"`
	Target       int       `json:"target"`
	Dim          int       `json:"dim"`
	Max          int       `json:"max"`
	LastActivity time.Time `json:"last_activity"`
	Devices      []struct {
		Path string `json:"path"`
		Type string `json:"type"`
	} `json:"devices"`
	At time.Time `json:"at"`
}

// envelope is the websocket frame format.
type envelope struct {
	Type string          `json:"type"`
	Ts   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

var rootCmd = &cobra.Command{
	Use:           "kbd-backlight-ctl",
	Short:         "Inspect a running kbd-backlightd",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the daemon's current state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream mode and brightness changes until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", defaultAddr, "Daemon status server address (host:port)")
	statusCmd.Flags().BoolVar(&rawJSON, "json", false, "Print the raw JSON snapshot")
	rootCmd.AddCommand(statusCmd, watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/state", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("query daemon: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	if rawJSON {
		_, err := os.Stdout.Write(body)
		return err
	}

	var s snapshot
	if err := json.Unmarshal(body, &s); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	printSnapshot(os.Stdout, s)
	return nil
}

func printSnapshot(w io.Writer, s snapshot) {
	fmt.Fprintf(w, "mode:        %s\n", s.Mode)
	fmt.Fprintf(w, "brightness:  %d/%d\n", s.Brightness, s.Max)
	fmt.Fprintf(w, "target:      %d\n", s.Target)
	fmt.Fprintf(w, "dim:         %d\n", s.Dim)
	if !s.LastActivity.IsZero() {
		fmt.Fprintf(w, "idle for:    %s\n", s.At.Sub(s.LastActivity).Truncate(time.Second))
	}
	fmt.Fprintf(w, "devices:     %d\n", len(s.Devices))
	for _, d := range s.Devices {
		fmt.Fprintf(w, "  %-9s %s\n", d.Type, d.Path)
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := d.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", u.String(), err)
	}
	defer conn.Close()

	done := make(chan error, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					done <- nil
				} else {
					done <- err
				}
				return
			}
			printEvent(os.Stdout, msg)
		}
	}()

	select {
	case <-ctx.Done():
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return nil
	case err := <-done:
		return err
	}
}

func printEvent(w io.Writer, msg []byte) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		fmt.Fprintf(w, "[TEXT] %s\n", msg)
		return
	}
	ts := env.Ts.Local().Format("15:04:05.000")

	switch env.Type {
	case "state_init":
		var s snapshot
		if err := json.Unmarshal(env.Data, &s); err == nil {
			fmt.Fprintf(w, "%s [STATE] mode=%s brightness=%d/%d target=%d devices=%d\n",
				ts, s.Mode, s.Brightness, s.Max, s.Target, len(s.Devices))
			return
		}
	case "mode_changed":
		var m struct {
			From   string `json:"from"`
			To     string `json:"to"`
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(env.Data, &m); err == nil {
			fmt.Fprintf(w, "%s [MODE] %s -> %s (%s)\n", ts, m.From, m.To, m.Reason)
			return
		}
	case "brightness_changed":
		var b struct {
			Level    int  `json:"level"`
			External bool `json:"external"`
		}
		if err := json.Unmarshal(env.Data, &b); err == nil {
			src := ""
			if b.External {
				src = " (hotkey)"
			}
			fmt.Fprintf(w, "%s [BRIGHTNESS] %d%s\n", ts, b.Level, src)
			return
		}
	case "target_changed":
		var t struct {
			Target int `json:"target"`
		}
		if err := json.Unmarshal(env.Data, &t); err == nil {
			fmt.Fprintf(w, "%s [TARGET] %d\n", ts, t.Target)
			return
		}
	}
	fmt.Fprintf(w, "%s [%s] %s\n", ts, strings.ToUpper(env.Type), env.Data)
}
