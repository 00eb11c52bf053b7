package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"delta_bot/internal/models"
	"delta_bot/internal/modules/config"
	"delta_bot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const userAgent = "delta-bot/1.0"

// Числа из ответов оставляем json.Number, чтобы id не теряли точность.
var api = sonic.Config{UseNumber: true}.Froze()

type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *apiError       `json:"error"`
}

type apiError struct {
	Code    string         `json:"code"`
	Context map[string]any `json:"context"`
}

// Client — REST-клиент Delta Exchange, реализует models.PositionOracle.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	symbol    string
	productID int

	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
	newID   func() string
}

func NewClient(cfg config.ExchangeConfig) *Client {
	rps := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		rps = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		symbol:    cfg.Symbol,
		productID: cfg.ProductID,
		http:      &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rps, burst),
		now:       time.Now,
		newID:     newClientOrderID,
	}
}

func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

// Sign: hex(HMAC-SHA256(secret, method + timestamp + path + query + body)).
// query передаётся вместе с ведущим "?".
func Sign(secret, method, timestamp, path, query, body string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(method + timestamp + path + query + body))
	return hex.EncodeToString(h.Sum(nil))
}

// do выполняет подписанный запрос и раскладывает result в out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return models.WithKind(errors.Wrap(err, "rate limiter"), models.ErrTransient)
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = sonic.Marshal(body); err != nil {
			return errors.Wrapf(err, "%s %s marshal", method, path)
		}
	}

	qs := ""
	if len(query) > 0 {
		qs = "?" + query.Encode()
	}

	ts := strconv.FormatInt(c.now().Unix(), 10)
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+qs, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrapf(err, "%s %s new request", method, path)
	}
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("timestamp", ts)
	req.Header.Set("signature", Sign(c.apiSecret, method, ts, path, qs, string(payload)))
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyNetwork(errors.Wrapf(err, "%s %s", method, path))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.WithKind(errors.Wrapf(err, "%s %s read body", method, path), models.ErrTransient)
	}

	var env envelope
	decodeErr := api.Unmarshal(data, &env)

	if resp.StatusCode/100 != 2 || (decodeErr == nil && !env.Success) {
		code := ""
		if decodeErr == nil && env.Error != nil {
			code = env.Error.Code
		}
		return classifyHTTP(resp.StatusCode, code, fmt.Sprintf("%s %s http %d: %s", method, path, resp.StatusCode, truncate(data, 256)))
	}
	if decodeErr != nil {
		return errors.Wrapf(models.ErrData, "%s %s decode: %v", method, path, decodeErr)
	}

	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := api.Unmarshal(env.Result, out); err != nil {
		return errors.Wrapf(models.ErrData, "%s %s decode result: %v", method, path, err)
	}
	return nil
}

// Коды Delta, которые означают проблему с ключом, а не с запросом.
var authCodes = []string{
	"ip_not_whitelisted",
	"invalid_api_key",
	"unauthorized",
	"expired_signature",
	"signature_mismatch",
}

func classifyHTTP(status int, code, msg string) error {
	lower := strings.ToLower(code)
	for _, c := range authCodes {
		if strings.Contains(lower, c) {
			return errors.Wrap(models.ErrAuthorization, msg)
		}
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.Wrap(models.ErrAuthorization, msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return errors.Wrap(models.ErrTransient, msg)
	case status == http.StatusNotFound:
		return errors.Wrap(models.ErrNotFound, msg)
	default:
		return errors.Wrap(models.ErrSubmission, msg)
	}
}

func classifyNetwork(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		logger.Warn("delta: timeout: %v", err)
	}
	return models.WithKind(err, models.ErrTransient)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
