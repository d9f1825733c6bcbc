package marketstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"FinLearn/internal/domain/models"
	drepo "FinLearn/internal/domain/repository"
	"FinLearn/pkg/logger"
)

var errNotConnected = errors.New("market stream not connected")

const (
	quoteBuffer  = 1024
	writeTimeout = 5 * time.Second
)

// Client streams trades from a Finnhub-compatible WebSocket as quotes.
// Symbols may carry an exchange prefix ("BINANCE:BTCUSDT"); quotes use the bare symbol.
type Client struct {
	endpoint       string
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *logger.Logger
	dropped        atomic.Int64

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn
}

func New(apiKey, websocketURL string, symbols []string, reconnectDelay, pingInterval time.Duration, log *logger.Logger) drepo.QuoteStream {
	if log == nil {
		log = logger.Nop()
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	endpoint := websocketURL
	if u, err := url.Parse(websocketURL); err == nil && apiKey != "" {
		q := u.Query()
		q.Set("token", apiKey)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}
	return &Client{
		endpoint:       endpoint,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
	}
}

func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("stream connect: %w", err)
	}
	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	c.log.Info("market stream connected", logger.Int("symbols", len(c.symbols)))
	return nil
}

func (c *Client) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errNotConnected
	}
	for _, s := range c.symbols {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(map[string]string{"type": "subscribe", "symbol": s}); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
	}
	c.log.Info("market stream subscribed", logger.Strings("symbols", c.symbols))
	return nil
}

// frame is one server message; only "trade" frames carry data.
type frame struct {
	Type string `json:"type"`
	Data []struct {
		Symbol string  `json:"s"`
		Price  float64 `json:"p"`
		Volume float64 `json:"v"`
		TimeMs int64   `json:"t"`
	} `json:"data"`
}

func decodeQuotes(b []byte) []models.Quote {
	var f frame
	if json.Unmarshal(b, &f) != nil || f.Type != "trade" {
		return nil
	}
	out := make([]models.Quote, 0, len(f.Data))
	for _, d := range f.Data {
		out = append(out, models.Quote{
			Symbol: bareSymbol(d.Symbol),
			Price:  d.Price,
			Volume: d.Volume,
			Time:   time.UnixMilli(d.TimeMs).UTC(),
		})
	}
	return out
}

// Read streams quotes until ctx ends or the connection fails. The error
// channel carries at most one error and is closed with the quote channel.
// Quotes are dropped rather than blocking the socket when the consumer lags.
func (c *Client) Read(ctx context.Context) (<-chan models.Quote, <-chan error) {
	quotes := make(chan models.Quote, quoteBuffer)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		errs <- errNotConnected
		close(quotes)
		close(errs)
		return quotes, errs
	}

	done := make(chan struct{})
	go c.keepalive(ctx, conn, done)

	go func() {
		defer close(errs)
		defer close(quotes)
		defer close(done)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("stream read: %w", err)
				}
				return
			}
			for _, q := range decodeQuotes(b) {
				select {
				case quotes <- q:
				default:
					if n := c.dropped.Add(1); n%1000 == 1 {
						c.log.Warn("market stream consumer lagging, quotes dropped", logger.Int64("dropped", n))
					}
				}
			}
		}
	}()
	return quotes, errs
}

// keepalive pings on an interval and unblocks the reader when ctx ends.
func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.SetReadDeadline(time.Now())
			return
		case <-t.C:
			c.mu.Lock()
			if c.conn == conn {
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			}
			c.mu.Unlock()
		}
	}
}

func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.reconnectDelay):
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func bareSymbol(s string) string {
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		return s[i+1:]
	}
	return s
}
