package a2a_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/parley-ai/parley/internal/a2a"
	"github.com/parley-ai/parley/pkg/chat"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startPeer launches a test WebSocket peer. The handler receives the accepted
// conn. The server is automatically closed when the test finishes.
func startPeer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readFrame reads one text frame and decodes it into a generic map.
func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	var v map[string]any
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("readFrame unmarshal: %v", err)
	}
	return v
}

// writeFrame marshals v and sends it as a text frame.
func writeFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeFrame: %v (may be expected on close)", err)
	}
}

func TestDial_SendsBearerToken(t *testing.T) {
	t.Parallel()

	authHeader := make(chan string, 1)
	srv := startPeer(t, func(conn *websocket.Conn, r *http.Request) {
		authHeader <- r.Header.Get("Authorization")
		<-conn.CloseRead(context.Background()).Done()
	})

	c, err := a2a.Dial(context.Background(), wsURL(srv), a2a.WithToken("secret-token"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	select {
	case got := <-authHeader:
		if got != "Bearer secret-token" {
			t.Errorf("Authorization = %q; want Bearer secret-token", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for handshake")
	}
}

func TestAvailableTools(t *testing.T) {
	t.Parallel()

	srv := startPeer(t, func(conn *websocket.Conn, _ *http.Request) {
		req := readFrame(t, conn)
		if req["type"] != "skills/list" {
			t.Errorf("request type = %v; want skills/list", req["type"])
		}
		writeFrame(t, conn, map[string]any{
			"type": "skills/result",
			"id":   req["id"],
			"skills": []map[string]any{
				{"name": "summarize", "description": "summarizes a document"},
				{"name": "translate", "description": "translates text", "parameters": map[string]any{
					"type": "object",
				}},
			},
		})
	})

	c, err := a2a.Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	defs, err := c.AvailableTools(context.Background())
	if err != nil {
		t.Fatalf("AvailableTools: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("got %d definitions, want 2", len(defs))
	}
	if defs[0].Name != "summarize" || defs[1].Name != "translate" {
		t.Fatalf("definitions = %+v", defs)
	}
	if defs[1].Parameters["type"] != "object" {
		t.Fatalf("parameters not carried over: %+v", defs[1].Parameters)
	}
}

func TestExecuteTool(t *testing.T) {
	t.Parallel()

	srv := startPeer(t, func(conn *websocket.Conn, _ *http.Request) {
		req := readFrame(t, conn)
		msg, _ := req["message"].(map[string]any)
		if msg["tool"] != "summarize" {
			t.Errorf("tool = %v; want summarize", msg["tool"])
		}
		if msg["call_id"] != "call_xyz12345" {
			t.Errorf("call_id = %v; want call_xyz12345", msg["call_id"])
		}
		args, _ := msg["arguments"].(map[string]any)
		if args["doc"] != "report.pdf" {
			t.Errorf("arguments = %v", msg["arguments"])
		}
		writeFrame(t, conn, map[string]any{
			"type": "message/result",
			"id":   req["id"],
			"result": map[string]any{
				"success": true,
				"content": "The report is fine.",
			},
		})
	})

	c, err := a2a.Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	args := chat.NewArgs()
	args.Set("doc", "report.pdf")
	res, err := c.ExecuteTool(context.Background(), chat.ToolCall{
		Name:      "summarize",
		Arguments: args,
		ID:        "call_xyz12345",
	})
	if err != nil {
		t.Fatalf("ExecuteTool: %v", err)
	}
	if !res.Success || res.Content != "The report is fine." {
		t.Fatalf("result = %+v", res)
	}
}

func TestExecuteTool_PeerError(t *testing.T) {
	t.Parallel()

	srv := startPeer(t, func(conn *websocket.Conn, _ *http.Request) {
		req := readFrame(t, conn)
		writeFrame(t, conn, map[string]any{
			"type":  "error",
			"id":    req["id"],
			"error": "no such skill",
		})
	})

	c, err := a2a.Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	_, err = c.ExecuteTool(context.Background(), chat.ToolCall{Name: "missing"})
	if err == nil || !strings.Contains(err.Error(), "no such skill") {
		t.Fatalf("err = %v; want peer error surfaced", err)
	}
}

func TestExecuteTool_ContextTimeout(t *testing.T) {
	t.Parallel()

	// A peer that never replies.
	srv := startPeer(t, func(conn *websocket.Conn, _ *http.Request) {
		readFrame(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	c, err := a2a.Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = c.ExecuteTool(ctx, chat.ToolCall{Name: "slow"})
	if err == nil || !strings.Contains(err.Error(), "awaiting reply") {
		t.Fatalf("err = %v; want reply timeout", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startPeer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	c, err := a2a.Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
