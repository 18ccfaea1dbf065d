package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// terminalRateLimit is the maximum input messages per second per
// WebSocket connection. Messages beyond this rate are dropped.
const terminalRateLimit = 200

// terminalRateBurst allows short bursts of rapid input (e.g. paste)
// before rate limiting kicks in.
const terminalRateBurst = 200

// maxInputMessageSize caps one input frame.
const maxInputMessageSize = 32 * 1024

// Resize dimensions are clamped to these bounds.
const (
	maxResizeCols = 512
	maxResizeRows = 256
)

// statusAlreadyAttached is the close code sent to a client trying to
// attach to a tab that already has a live terminal socket.
const statusAlreadyAttached = websocket.StatusCode(4409)

// attachedTabs tracks which tabs have a live terminal socket. A tab
// carries at most one; a second attach is rejected instead of silently
// stealing the output stream.
var attachedTabs = struct {
	mu  sync.Mutex
	ids map[string]bool
}{ids: make(map[string]bool)}

func attachTab(tabID string) bool {
	attachedTabs.mu.Lock()
	defer attachedTabs.mu.Unlock()
	if attachedTabs.ids[tabID] {
		return false
	}
	attachedTabs.ids[tabID] = true
	return true
}

func detachTab(tabID string) {
	attachedTabs.mu.Lock()
	delete(attachedTabs.ids, tabID)
	attachedTabs.mu.Unlock()
}

type termResizeMsg struct {
	Type string `json:"type"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// tokenBucket rate-limits terminal input messages.
type tokenBucket struct {
	tokens     int
	maxTokens  int
	refillRate int // tokens added per second
	lastRefill time.Time
}

func newTokenBucket(maxTokens, refillRate int) *tokenBucket {
	return &tokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (tb *tokenBucket) allow() bool {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tb.lastRefill = now

	tb.tokens += int(elapsed.Seconds() * float64(tb.refillRate))
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}

	if tb.tokens <= 0 {
		return false
	}
	tb.tokens--
	return true
}

// TabTerminalWS attaches a WebSocket to a tab's terminal. Buffered
// scrollback is replayed first so a reattaching client sees missed
// output, then live output streams as binary frames. Text frames carry
// JSON control messages (resize); binary frames carry raw input.
func TabTerminalWS(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	tab, ok := Tabs.GetTab(tabID)
	if !ok {
		http.Error(w, "Tab not found", http.StatusNotFound)
		return
	}

	clientConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[terminal] websocket accept: %v", err)
		return
	}
	defer clientConn.CloseNow()
	clientConn.SetReadLimit(1024 * 1024)

	ctx := r.Context()
	sessionID := tab.SessionID

	if !attachTab(tabID) {
		log.Printf("[terminal] rejected second attach to tab %s", tabID)
		clientConn.Close(statusAlreadyAttached, "tab already attached")
		return
	}
	defer detachTab(tabID)

	// Replay scrollback before going live.
	if history := Tabs.SessionBuffer(sessionID); len(history) > 0 {
		if err := clientConn.Write(ctx, websocket.MessageBinary, history); err != nil {
			return
		}
	}

	relayCtx, relayCancel := context.WithCancel(ctx)
	defer relayCancel()

	// Live output: tee into the scrollback buffer and the socket. On
	// detach the buffer-only sink is restored so output keeps buffering.
	wsWriter := &wsOutputWriter{conn: clientConn, ctx: relayCtx}
	Sessions.AttachOutput(sessionID, func(p []byte) {
		Tabs.UpdateSessionBuffer(sessionID, p)
		if _, err := wsWriter.Write(p); err != nil {
			relayCancel()
		}
	})
	defer Sessions.AttachOutput(sessionID, func(p []byte) {
		Tabs.UpdateSessionBuffer(sessionID, p)
	})

	log.Printf("[terminal] client attached to tab %s", tabID)

	limiter := newTokenBucket(terminalRateBurst, terminalRateLimit)

	// Browser -> shell stdin.
	for {
		msgType, data, err := clientConn.Read(relayCtx)
		if err != nil {
			break
		}

		if !limiter.allow() {
			continue
		}

		if msgType == websocket.MessageBinary {
			if len(data) > maxInputMessageSize {
				log.Printf("[terminal] input too large: tab=%s size=%d", tabID, len(data))
				continue
			}
			if _, err := Sessions.WriteInput(sessionID, data); err != nil {
				break
			}
			continue
		}

		var msg termResizeMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "resize" && msg.Cols > 0 && msg.Rows > 0 {
			cols, rows := msg.Cols, msg.Rows
			if cols > maxResizeCols {
				cols = maxResizeCols
			}
			if rows > maxResizeRows {
				rows = maxResizeRows
			}
			if err := Sessions.Resize(sessionID, cols, rows); err != nil {
				log.Printf("[terminal] resize tab %s: %v", tabID, err)
			}
		}
	}

	log.Printf("[terminal] client detached from tab %s", tabID)
	clientConn.Close(websocket.StatusNormalClosure, "")
}

// wsOutputWriter wraps a WebSocket connection to implement io.Writer.
type wsOutputWriter struct {
	conn *websocket.Conn
	ctx  context.Context
}

func (w *wsOutputWriter) Write(p []byte) (int, error) {
	if err := w.conn.Write(w.ctx, websocket.MessageBinary, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
