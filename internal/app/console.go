package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/petervdpas/peercall/internal/contacts"
)

// runConsole reads commands from stdin until EOF or ctx cancellation.
func runConsole(ctx context.Context, client *Client) {
	fmt.Println("commands: users, call <id>, accept, reject, hangup, msg <text>, status,")
	fmt.Println("          mute, video, history, chat, contacts, block <id>, quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)

		if err := dispatch(client, cmd, arg); err != nil {
			if err == errQuit {
				return
			}
			fmt.Println("error:", err)
		}
	}
}

var errQuit = errors.New("quit")

func dispatch(client *Client, cmd, arg string) error {
	switch cmd {
	case "users":
		for _, p := range client.Roster.List() {
			fmt.Printf("  %s  %s\n", p.ID, p.DisplayName)
		}
	case "call":
		if arg == "" {
			return fmt.Errorf("usage: call <id>")
		}
		return client.Engine.PlaceCall(arg)
	case "accept":
		return client.Engine.AcceptCall()
	case "reject":
		return client.Engine.RejectCall()
	case "hangup":
		return client.Engine.HangUp()
	case "msg":
		return client.Engine.SendMessage(arg)
	case "mute":
		muted, err := client.Engine.ToggleAudio()
		if err != nil {
			return err
		}
		fmt.Println("muted:", muted)
	case "video":
		disabled, err := client.Engine.ToggleVideo()
		if err != nil {
			return err
		}
		fmt.Println("video disabled:", disabled)
	case "status":
		fmt.Println("phase:", client.Engine.Phase())
		if peer, ok := client.Engine.Peer(); ok {
			dir := "inbound"
			if client.Engine.Outbound() {
				dir = "outbound"
			}
			fmt.Printf("peer: %s (%s, %s, %ds)\n", peer.ID, peer.DisplayName, dir, client.Engine.DurationSec())
		} else if last, ok := client.Recorder.Last(); ok {
			fmt.Printf("last call: %s -> %s  %s  %ds\n",
				last.CallerName, last.ReceiverName, last.Status, last.DurationSec)
		}
	case "history":
		for _, e := range client.Recorder.Snapshot() {
			fmt.Printf("  %s  %s -> %s  %s  %ds\n",
				e.StartTime.Format("15:04:05"), e.CallerName, e.ReceiverName, e.Status, e.DurationSec)
		}
	case "chat":
		for _, m := range client.Thread.Snapshot() {
			fmt.Printf("  [%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.SenderName, m.Content)
		}
	case "contacts":
		list, err := client.Store.List("")
		if err != nil {
			return err
		}
		for _, c := range list {
			fmt.Printf("  %s  %s  %s\n", c.UserID, c.DisplayName, c.Status)
		}
	case "block":
		if arg == "" {
			return fmt.Errorf("usage: block <id>")
		}
		err := client.Store.UpdateStatus(arg, contacts.StatusBlocked)
		if errors.Is(err, contacts.ErrNotFound) {
			name := arg
			if p, ok := client.Roster.Get(arg); ok {
				name = p.DisplayName
			}
			_, err = client.Store.Add(arg, name, "", "", contacts.StatusBlocked, client.Self.ID)
		}
		return err
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}
