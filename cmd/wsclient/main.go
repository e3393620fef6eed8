// Command wsclient is a debug dashboard for pulsehub. It prints every event
// the hub pushes and can log in, request a pulse or toggle the relay.
//
// Usage: go run ./cmd/wsclient --password secret --pulse ws://127.0.0.1:3000/ws
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
)

type outgoing struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

func main() {
	fs := pflag.NewFlagSet("wsclient", pflag.ExitOnError)
	password := fs.String("password", "", "Log in with this shared secret")
	pulse := fs.Bool("pulse", false, "Request a pulse once connected (after login if --password is set)")
	toggle := fs.Bool("toggle", false, "Toggle the relay once connected")
	fs.Parse(os.Args[1:])

	url := "ws://127.0.0.1:3000/ws"
	if fs.NArg() > 0 {
		url = fs.Arg(0)
	}

	fmt.Printf("Connecting to %s...\n", url)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Println("Connected! Waiting for messages...")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	// Commands go out after initialState, and after loginSuccess when a
	// password is given. Only the reader goroutine writes after that point.
	sendCommands := func() {
		if *pulse {
			conn.WriteJSON(outgoing{Type: "pulseRelay"})
		}
		if *toggle {
			conn.WriteJSON(outgoing{Type: "toggleRelay"})
		}
	}

	done := make(chan struct{})
	messageCount := 0

	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					fmt.Printf("Read error: %v\n", err)
				}
				return
			}

			messageCount++

			var msg struct {
				Type    string                 `json:"type"`
				Payload map[string]interface{} `json:"payload"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				fmt.Printf("[%d] Raw: %s\n", messageCount, string(data))
				continue
			}

			fmt.Printf("[%d] %s type=%s%s\n", messageCount, time.Now().Format("15:04:05"), msg.Type, describe(msg.Type, msg.Payload))

			switch msg.Type {
			case "initialState":
				if *password != "" && msg.Payload["authenticated"] != true {
					conn.WriteJSON(outgoing{Type: "loginAttempt", Payload: map[string]string{"password": *password}})
				} else {
					sendCommands()
				}
			case "loginSuccess":
				sendCommands()
			}
		}
	}()

	select {
	case <-done:
		fmt.Println("Connection closed")
	case <-interrupt:
		fmt.Println("Interrupted")
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}

	fmt.Printf("Total messages received: %d\n", messageCount)
}

// describe renders the interesting part of a payload on one line.
func describe(msgType string, payload map[string]interface{}) string {
	switch msgType {
	case "sensorData", "initialState":
		readings, _ := payload["readings"].(map[string]interface{})
		out := ""
		for name, raw := range readings {
			r, _ := raw.(map[string]interface{})
			switch v := r["value"].(type) {
			case float64:
				out += fmt.Sprintf(" %s=%g%v", name, v, unitOf(r))
			default:
				out += fmt.Sprintf(" %s=--", name)
			}
		}
		if msgType == "initialState" {
			out += fmt.Sprintf(" auth=%v/%v mode=%v", payload["authRequired"], payload["authenticated"], payload["commandMode"])
		}
		return out
	case "esp32log":
		return fmt.Sprintf(" line=%q", payload["line"])
	case "esp32Status":
		return fmt.Sprintf(" online=%v lastSeen=%v", payload["online"], payload["lastSeen"])
	case "relayState":
		return fmt.Sprintf(" state=%v", payload["state"])
	case "loginFail", "loginBlock":
		return fmt.Sprintf(" message=%q", payload["message"])
	}
	return ""
}

func unitOf(r map[string]interface{}) string {
	if u, ok := r["unit"].(string); ok {
		return u
	}
	return ""
}
