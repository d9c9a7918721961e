package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// wireFrame is the JSON-over-websocket wire format this reference
// transport speaks: one tagged frame per message, mirroring the
// combined-stream convention in the teacher's BinanceConnector (one
// socket, multiple logical streams multiplexed by a type tag).
type wireFrame struct {
	Type         string      `json:"type"` // "depth" or "trade"
	InstrumentID string      `json:"instrument_id"`
	Bids         [][2]string `json:"bids,omitempty"`
	Asks         [][2]string `json:"asks,omitempty"`
	Price        string      `json:"price,omitempty"`
	Quantity     string      `json:"quantity,omitempty"`
	Side         string      `json:"side,omitempty"`
	TimestampMs  int64       `json:"timestamp_ms"`
}

// WebSocketTransport is a reference Transport implementation speaking
// wireFrame over a single gorilla/websocket connection, grounded on
// the teacher's BinanceConnector dial/read/ping loop.
type WebSocketTransport struct {
	url    string
	logger *zap.Logger
}

// NewWebSocketTransport creates a transport that dials url on Subscribe.
func NewWebSocketTransport(url string, logger *zap.Logger) *WebSocketTransport {
	return &WebSocketTransport{url: url, logger: logger.Named("ws_transport")}
}

func (t *WebSocketTransport) Subscribe(ctx context.Context, instrumentIDs []string) (Subscription, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", t.url, err)
	}

	sub := &wsSubscription{
		conn:    conn,
		logger:  t.logger,
		frames:  make(chan Frame, 4096),
		errs:    make(chan error, 1),
		closeCh: make(chan struct{}),
	}

	subscribeMsg := map[string]any{"op": "subscribe", "instruments": instrumentIDs}
	if err := conn.WriteJSON(subscribeMsg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: subscribe request: %w", err)
	}

	go sub.readLoop()
	go sub.pingLoop()

	return sub, nil
}

type wsSubscription struct {
	conn    *websocket.Conn
	logger  *zap.Logger
	frames  chan Frame
	errs    chan error
	closeCh chan struct{}
	once    sync.Once
}

func (s *wsSubscription) readLoop() {
	defer close(s.errs)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case s.errs <- fmt.Errorf("transport: read: %w", err):
			default:
			}
			return
		}

		var wf wireFrame
		if err := json.Unmarshal(raw, &wf); err != nil {
			s.logger.Warn("transport: unparseable frame", zap.Error(err))
			continue
		}

		frame, err := toFrame(wf)
		if err != nil {
			s.logger.Warn("transport: invalid frame", zap.Error(err))
			continue
		}

		select {
		case s.frames <- frame:
		case <-s.closeCh:
			return
		}
	}
}

func (s *wsSubscription) pingLoop() {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.closeCh:
			return
		case <-ticker.C:
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Warn("transport: ping failed", zap.Error(err))
			}
		}
	}
}

func (s *wsSubscription) Next(ctx context.Context) (Frame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case err, ok := <-s.errs:
		if !ok {
			return Frame{}, fmt.Errorf("transport: subscription closed")
		}
		return Frame{}, err
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (s *wsSubscription) Close() error {
	s.once.Do(func() { close(s.closeCh) })
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}

func toFrame(wf wireFrame) (Frame, error) {
	switch wf.Type {
	case "depth":
		bids, err := toPriceQty(wf.Bids)
		if err != nil {
			return Frame{}, err
		}
		asks, err := toPriceQty(wf.Asks)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Depth: &DepthFrame{
			InstrumentID: wf.InstrumentID,
			Bids:         bids,
			Asks:         asks,
			ReceivedAt:   time.Now().UnixNano(),
		}}, nil
	case "trade":
		price, err := decimal.NewFromString(wf.Price)
		if err != nil {
			return Frame{}, fmt.Errorf("transport: parse trade price: %w", err)
		}
		qty, err := decimal.NewFromString(wf.Quantity)
		if err != nil {
			return Frame{}, fmt.Errorf("transport: parse trade quantity: %w", err)
		}
		return Frame{Trade: &TradeFrame{
			InstrumentID: wf.InstrumentID,
			Price:        price,
			Quantity:     qty.IntPart(),
			Side:         wf.Side,
			Timestamp:    time.Now().UnixNano(),
		}}, nil
	default:
		return Frame{}, fmt.Errorf("transport: unknown frame type %q", wf.Type)
	}
}

func toPriceQty(raw [][2]string) ([]PriceQty, error) {
	out := make([]PriceQty, 0, len(raw))
	for _, pair := range raw {
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, fmt.Errorf("transport: parse price %q: %w", pair[0], err)
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, fmt.Errorf("transport: parse quantity %q: %w", pair[1], err)
		}
		out = append(out, PriceQty{Price: price, Quantity: qty.IntPart()})
	}
	return out, nil
}
