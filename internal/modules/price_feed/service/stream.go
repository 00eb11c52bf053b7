package service

import (
	"context"
	"strconv"
	"time"

	"delta_bot/internal/modules/config"
	"delta_bot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// ConnState — куда отдаём статус соединения (health).
type ConnState interface {
	SetWSConnected(v bool)
}

// Trade — одна агрегированная сделка из потока aggTrade.
type Trade struct {
	Price float64
	At    time.Time
}

type aggTradeFrame struct {
	Price string `json:"p"`
}

// ParseAggTrade разбирает кадр aggTrade. ok=false — кадр не сделка (ack подписки и т.п.).
func ParseAggTrade(msg []byte, received time.Time) (Trade, bool, error) {
	var f aggTradeFrame
	if err := sonic.Unmarshal(msg, &f); err != nil {
		return Trade{}, false, errors.Wrap(err, "decode aggTrade")
	}
	if f.Price == "" {
		return Trade{}, false, nil
	}

	price, err := strconv.ParseFloat(f.Price, 64)
	if err != nil {
		return Trade{}, false, errors.Wrapf(err, "aggTrade price %q", f.Price)
	}
	return Trade{Price: price, At: received}, true, nil
}

// Stream держит WebSocket к фьючерсному потоку Binance и пишет цену в Cell.
type Stream struct {
	cfg    config.PriceFeedConfig
	cell   *Cell
	dialer *websocket.Dialer
	conn   ConnState
}

func NewStream(cfg config.PriceFeedConfig, cell *Cell, conn ConnState) *Stream {
	return &Stream{
		cfg:    cfg,
		cell:   cell,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		conn:   conn,
	}
}

// Run переподключается до отмены ctx.
func (s *Stream) Run(ctx context.Context) {
	for {
		logger.Info("price_feed: connecting %s (%s)", s.cfg.WSURL, s.cfg.Stream)
		err := s.runOnce(ctx)
		s.setConnected(false)

		select {
		case <-ctx.Done():
			logger.Info("price_feed: stopped")
			return
		default:
		}

		logger.Warn("price_feed: websocket closed: %v, reconnecting in %s", err, s.cfg.ReconnectDelay)
		t := time.NewTimer(s.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (s *Stream) runOnce(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.WSURL, nil)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	defer func() { _ = conn.Close() }()

	sub, err := sonic.Marshal(map[string]any{
		"method": "SUBSCRIBE",
		"params": []string{s.cfg.Stream},
		"id":     1,
	})
	if err != nil {
		return errors.Wrap(err, "marshal subscribe")
	}
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		return errors.Wrap(err, "subscribe")
	}
	s.setConnected(true)
	logger.Info("price_feed: subscribed to %s", s.cfg.Stream)

	// закрытие соединения прерывает ReadMessage при отмене ctx
	done := make(chan struct{})
	defer close(done)
	go s.keepalive(ctx, conn, done)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read")
		}

		trade, ok, err := ParseAggTrade(msg, time.Now())
		if err != nil {
			logger.Debug("price_feed: bad frame: %v", err)
			continue
		}
		if !ok {
			continue
		}
		s.cell.Set(trade.Price, trade.At)
	}
}

func (s *Stream) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	interval := s.cfg.PingInterval
	if interval <= 0 {
		interval = 20 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-t.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Debug("price_feed: ping: %v", err)
			}
		}
	}
}

func (s *Stream) setConnected(v bool) {
	if s.conn != nil {
		s.conn.SetWSConnected(v)
	}
}
