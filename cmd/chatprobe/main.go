package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	ws "nhooyr.io/websocket"

	"uppy/chat/internal/auth"
	"uppy/chat/internal/health"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func main() {
	_ = godotenv.Load()

	wsURL := flag.String("url", "ws://localhost:3000/ws", "Gateway websocket URL")
	token := flag.String("token", os.Getenv("CHAT_TOKEN"), "Cognito id token (default $CHAT_TOKEN)")
	conversation := flag.String("conversation", "", "Enrollment id to join")
	text := flag.String("text", "", "Message to send after joining")
	timeout := flag.Duration("timeout", 15*time.Second, "How long to wait for events")
	flag.Parse()

	if *token == "" {
		log.Fatal("a token is required (-token or CHAT_TOKEN)")
	}
	describeToken(*token)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	fmt.Printf("=== Chat probe ===\n")
	printHealth(ctx, *wsURL)

	fmt.Printf("[1] Dialing %s...\n", *wsURL)
	conn, resp, err := ws.Dial(ctx, *wsURL, &ws.DialOptions{
		HTTPHeader: http.Header{auth.AuthTokenHeader: {*token}},
	})
	if err != nil {
		if resp != nil {
			log.Fatalf("dial: %v (HTTP %d)", err, resp.StatusCode)
		}
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "probe done")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, b, err := conn.Read(ctx)
			if err != nil {
				if ctx.Err() == nil {
					fmt.Printf("\n[stream] closed: %v (status %d)\n", err, ws.CloseStatus(err))
				}
				return
			}
			printFrame(b)
		}
	}()

	if *conversation != "" {
		fmt.Printf("[2] Joining %s...\n", *conversation)
		send(ctx, conn, "join_conversation", map[string]string{"enrollment_id": *conversation})
		if *text != "" {
			time.Sleep(200 * time.Millisecond)
			fmt.Printf("[3] Sending %q\n", *text)
			send(ctx, conn, "send_message", map[string]string{"enrollment_id": *conversation, "message_text": *text})
		}
	}

	select {
	case <-done:
		fmt.Println("[*] Stream closed")
	case <-ctx.Done():
		fmt.Println("[*] Done waiting")
	}
}

func send(ctx context.Context, c *ws.Conn, event string, data any) {
	b, _ := json.Marshal(map[string]any{"event": event, "data": data})
	if err := c.Write(ctx, ws.MessageText, b); err != nil {
		log.Fatalf("send %s: %v", event, err)
	}
}

func printFrame(b []byte) {
	ts := time.Now().Format("15:04:05.000")
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		fmt.Printf("[%s] <- (unparsed) %s\n", ts, b)
		return
	}
	fmt.Printf("[%s] <- %s %s\n", ts, f.Event, f.Data)
}

// describeToken prints the unverified claims so an expired or wrong-pool
// token is obvious before dialing.
func describeToken(raw string) {
	var claims auth.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		fmt.Printf("token: unparseable (%v)\n", err)
		return
	}
	fmt.Printf("token: sub=%s groups=%v iss=%s\n", claims.Subject, claims.Groups, claims.Issuer)
	if claims.ExpiresAt != nil {
		left := time.Until(claims.ExpiresAt.Time).Round(time.Second)
		if left <= 0 {
			fmt.Printf("token: EXPIRED %s ago\n", -left)
		} else {
			fmt.Printf("token: expires in %s\n", left)
		}
	}
}

func printHealth(ctx context.Context, wsURL string) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return
	}
	u.Scheme = strings.Replace(u.Scheme, "ws", "http", 1)
	u.Path = "/health"
	u.RawQuery = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Health: unreachable (%v)\n", err)
		return
	}
	defer resp.Body.Close()
	var st health.HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		fmt.Printf("Health: HTTP %d\n", resp.StatusCode)
		return
	}
	fmt.Print(st.String())
}
