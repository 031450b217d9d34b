package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"horo-bot/internal/domain"
)

// Horoscope получает гороскоп на сегодня с horo.mail.ru.
type Horoscope struct {
	client  *Client
	baseURL string
}

// NewHoroscope создаёт источник гороскопов.
func NewHoroscope(client *Client, baseURL string) *Horoscope {
	return &Horoscope{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Fetch реализует domain.ContentFetcher для знаков зодиака.
func (h *Horoscope) Fetch(ctx context.Context, sign string) (string, error) {
	if !domain.IsValidSign(sign) {
		return "", fmt.Errorf("unknown sign %q", sign)
	}
	data, err := h.client.do(ctx, request{
		op:       "horoscope",
		method:   http.MethodGet,
		url:      fmt.Sprintf("%s/prediction/%s/today/", h.baseURL, sign),
		headers:  map[string]string{"User-Agent": botUserAgent},
		attempts: h.client.attempts,
	})
	if err != nil {
		return "", fmt.Errorf("fetch horoscope %s: %w", sign, err)
	}
	return parseHoroscope(data)
}

func parseHoroscope(data []byte) (string, error) {
	doc, err := parseDocument(data)
	if err != nil {
		return "", err
	}
	for _, selector := range []string{".article__text", ".article__item", ".article__summary"} {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			if text := strings.Join(textLines(sel), "\n"); text != "" {
				return text, nil
			}
		}
	}
	if p := compactText(doc.Find("p").First()); p != "" {
		return p, nil
	}
	return "", ErrNoContent
}
