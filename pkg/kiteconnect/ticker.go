package kiteconnect

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultTickerURL = "wss://ws.kite.trade"

	// Subscription modes.
	ModeLTP   = "ltp"
	ModeQuote = "quote"
	ModeFull  = "full"

	readTimeout  = 30 * time.Second
	writeTimeout = 5 * time.Second
)

// Tick is one parsed market tick. Prices are in paise.
type Tick struct {
	Token     uint32
	LastPrice int64
	LastQty   int64
	Volume    int64
	Timestamp time.Time // exchange timestamp when available, else receive time
}

// Ticker is a single websocket connection to the Kite streaming API. It does
// not reconnect by itself; the caller owns the reconnect policy and calls
// Connect/Serve again after a failure.
type Ticker struct {
	apiKey      string
	accessToken string
	url         string

	mu   sync.Mutex
	conn *websocket.Conn

	// OnTick is called for every parsed tick (required before Serve).
	OnTick func(Tick)
	// OnOrderUpdate is called for postback messages (optional).
	OnOrderUpdate func(raw []byte)
}

// NewTicker creates a ticker for an authenticated session. url "" selects the
// production endpoint.
func NewTicker(apiKey, accessToken, url string) *Ticker {
	if url == "" {
		url = defaultTickerURL
	}
	return &Ticker{apiKey: apiKey, accessToken: accessToken, url: url}
}

// SetOnTick installs the tick callback. Must be called before Serve.
func (t *Ticker) SetOnTick(fn func(Tick)) { t.OnTick = fn }

// SetAccessToken swaps the session token used on the next Connect. Sessions
// expire daily, so a long-running caller refreshes this after each login.
func (t *Ticker) SetAccessToken(token string) {
	t.mu.Lock()
	t.accessToken = token
	t.mu.Unlock()
}

// Connect dials the streaming endpoint.
func (t *Ticker) Connect(ctx context.Context) error {
	t.mu.Lock()
	u := fmt.Sprintf("%s?api_key=%s&access_token=%s", t.url, t.apiKey, t.accessToken)
	t.mu.Unlock()
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, http.Header{
		"X-Kite-Version": {kiteVersion},
	})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("ticker dial: %w (status %s)", err, resp.Status)
		}
		return fmt.Errorf("ticker dial: %w", err)
	}

	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
	})

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

// Subscribe subscribes the given instrument tokens in the given mode.
func (t *Ticker) Subscribe(tokens []uint32, mode string) error {
	if err := t.writeJSON(map[string]any{"a": "subscribe", "v": tokens}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if err := t.writeJSON(map[string]any{"a": "mode", "v": []any{mode, tokens}}); err != nil {
		return fmt.Errorf("set mode: %w", err)
	}
	return nil
}

// Unsubscribe removes instrument tokens from the stream.
func (t *Ticker) Unsubscribe(tokens []uint32) error {
	return t.writeJSON(map[string]any{"a": "unsubscribe", "v": tokens})
}

// Serve reads frames until the connection fails or ctx is cancelled. The
// returned error is nil only on context cancellation.
func (t *Ticker) Serve(ctx context.Context) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errors.New("ticker: not connected")
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ticker read: %w", err)
		}

		switch mt {
		case websocket.BinaryMessage:
			// 1-byte binary frames are server heartbeats.
			if len(msg) > 1 {
				t.parseFrame(msg)
			}
		case websocket.TextMessage:
			t.handleText(msg)
		}
	}
}

// Close tears the connection down.
func (t *Ticker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		t.conn.Close()
		t.conn = nil
	}
}

func (t *Ticker) writeJSON(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return errors.New("ticker: not connected")
	}
	t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteJSON(v)
}

// parseFrame splits a binary frame into tick packets. Layout: a big-endian
// uint16 packet count, then per packet a uint16 length and the payload.
func (t *Ticker) parseFrame(b []byte) {
	if len(b) < 2 {
		return
	}
	count := int(binary.BigEndian.Uint16(b[0:2]))
	offset := 2
	for i := 0; i < count; i++ {
		if offset+2 > len(b) {
			return
		}
		length := int(binary.BigEndian.Uint16(b[offset : offset+2]))
		offset += 2
		if offset+length > len(b) {
			return
		}
		if tick, ok := parsePacket(b[offset : offset+length]); ok && t.OnTick != nil {
			t.OnTick(tick)
		}
		offset += length
	}
}

// parsePacket decodes one tick packet. All fields are big-endian; prices come
// off the wire already in paise for equities.
func parsePacket(b []byte) (Tick, bool) {
	if len(b) < 8 {
		return Tick{}, false
	}
	tick := Tick{
		Token:     binary.BigEndian.Uint32(b[0:4]),
		LastPrice: int64(int32(binary.BigEndian.Uint32(b[4:8]))),
		Timestamp: time.Now().UTC(),
	}

	// Quote and full packets carry traded quantity and day volume.
	if len(b) >= 44 {
		tick.LastQty = int64(binary.BigEndian.Uint32(b[8:12]))
		tick.Volume = int64(binary.BigEndian.Uint32(b[16:20]))
	}
	// Full packets carry the exchange timestamp (epoch seconds).
	if len(b) >= 64 {
		if ts := int64(binary.BigEndian.Uint32(b[60:64])); ts > 0 {
			tick.Timestamp = time.Unix(ts, 0).UTC()
		}
	}
	return tick, true
}

// handleText processes JSON messages: order postbacks and error frames.
func (t *Ticker) handleText(msg []byte) {
	var m struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &m); err != nil {
		return
	}
	if m.Type == "order" && t.OnOrderUpdate != nil {
		t.OnOrderUpdate(msg)
	}
}
