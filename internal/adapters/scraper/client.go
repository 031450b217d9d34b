// Package scraper получает гороскопы, анекдоты и расклады Таро со сторонних сайтов.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"horo-bot/internal/infra/metrics"
)

// ErrNoContent возвращается, если на странице не нашлось ожидаемого текста.
var ErrNoContent = errors.New("no content")

const (
	botUserAgent     = "Mozilla/5.0 (compatible; TelegramBot/1.0; +https://t.me/horo_bot)"
	browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxPageSize      = 4 << 20
)

// Client выполняет HTTP-запросы с таймаутом и повторами.
type Client struct {
	http     *http.Client
	attempts int
	timeout  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	log      zerolog.Logger
}

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient подменяет HTTP-клиент.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithSleep подменяет ожидание между попытками.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(cl *Client) { cl.sleep = fn }
}

// NewClient создаёт клиента. attempts: число попыток для запросов с повтором.
func NewClient(timeout time.Duration, attempts int, log zerolog.Logger, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if attempts <= 0 {
		attempts = 1
	}
	c := &Client{
		http:     &http.Client{},
		attempts: attempts,
		timeout:  timeout,
		sleep:    sleepCtx,
		log:      log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	op       string
	method   string
	url      string
	form     url.Values
	headers  map[string]string
	timeout  time.Duration
	attempts int
}

// do выполняет запрос. Между попытками ждёт 1 с, 2 с и так далее.
func (c *Client) do(ctx context.Context, req request) ([]byte, error) {
	attempts := req.attempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, time.Duration(attempt)*time.Second); err != nil {
				return nil, err
			}
		}
		body, err := c.once(ctx, req)
		if err == nil {
			return body, nil
		}
		lastErr = err
		c.log.Warn().Err(err).Str("op", req.op).Int("attempt", attempt+1).Msg("scraper: попытка не удалась")
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, req request) ([]byte, error) {
	timeout := req.timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.form != nil {
		body = strings.NewReader(req.form.Encode())
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return nil, err
	}
	if req.form != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.ObserveNetworkRequest("scraper", req.op, httpReq.URL.Host, start, err)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err == nil && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		err = fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	metrics.ObserveNetworkRequest("scraper", req.op, httpReq.URL.Host, start, err)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func parseDocument(data []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(data))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// textLines собирает непустые текстовые узлы выборки, каждый с обрезанными пробелами.
func textLines(sel *goquery.Selection) []string {
	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				lines = append(lines, t)
			}
			return
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return lines
}

// compactText склеивает текстовые узлы без разделителя.
func compactText(sel *goquery.Selection) string {
	return strings.Join(textLines(sel), "")
}
