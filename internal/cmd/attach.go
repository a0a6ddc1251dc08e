package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/webmux/webmux/internal/models"
	"github.com/webmux/webmux/internal/protocol"
)

var attachURL string

var attachCmd = &cobra.Command{
	Use:   "attach <session>",
	Short: "Attach the terminal to a session on a webmux server",
	Long: `Connects to a webmux server over WebSocket and mirrors the named
session into the current terminal. The local terminal is put into raw
mode; detach with Ctrl-\.`,
	Args: cobra.ExactArgs(1),
	RunE: runAttach,
}

func init() {
	attachCmd.Flags().StringVarP(&attachURL, "url", "u", "http://localhost:6565", "server base URL")
	rootCmd.AddCommand(attachCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
	sessionName := args[0]

	u, err := url.Parse(attachURL)
	if err != nil {
		return fmt.Errorf("parsing server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/v1/ws"
	q := u.Query()
	q.Set("mode", "binary")
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", u.String(), err)
	}
	defer conn.Close()

	// gorilla permits one concurrent writer; the resize and stdin pumps
	// share the connection.
	var writeMu sync.Mutex
	write := func(msgType int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(msgType, data)
	}

	attachMsg, err := json.Marshal(models.ClientMessage{
		Type:        models.MsgAttachSession,
		SessionName: sessionName,
	})
	if err != nil {
		return err
	}
	if err := write(websocket.TextMessage, attachMsg); err != nil {
		return fmt.Errorf("attaching: %w", err)
	}

	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		return fmt.Errorf("stdin is not a terminal")
	}
	oldState, err := term.MakeRaw(stdinFd)
	if err != nil {
		return fmt.Errorf("entering raw mode: %w", err)
	}
	defer func() {
		_ = term.Restore(stdinFd, oldState)
	}()

	// Keep the remote pane sized like the local terminal.
	sendResize := func() {
		cols, rows, err := term.GetSize(stdinFd)
		if err != nil {
			return
		}
		msg, err := json.Marshal(models.ClientMessage{
			Type: models.MsgResize,
			Cols: uint16(cols),
			Rows: uint16(rows),
		})
		if err == nil {
			_ = write(websocket.TextMessage, msg)
		}
	}
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			sendResize()
		}
	}()
	sendResize()

	done := make(chan error, 1)
	go func() {
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				done <- err
				return
			}
			switch msgType {
			case websocket.BinaryMessage:
				ft, payload, err := protocol.Decode(data)
				if err != nil || ft != protocol.FrameOutput {
					continue
				}
				_, _ = os.Stdout.Write(payload)
			case websocket.TextMessage:
				var msg models.ServerMessage
				if err := json.Unmarshal(data, &msg); err != nil {
					continue
				}
				if msg.Type == models.MsgError {
					done <- fmt.Errorf("server: %s", msg.Message)
					return
				}
			}
		}
	}()

	// Stdin pump. Ctrl-\ (0x1c) detaches locally instead of being
	// forwarded.
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				done <- err
				return
			}
			for i := 0; i < n; i++ {
				if buf[i] == 0x1c {
					done <- nil
					return
				}
			}
			frame, err := protocol.Encode(protocol.FrameInput, buf[:n])
			if err != nil {
				continue
			}
			if err := write(websocket.BinaryMessage, frame); err != nil {
				done <- err
				return
			}
		}
	}()

	err = <-done
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "\r\ndetached")
	return nil
}
