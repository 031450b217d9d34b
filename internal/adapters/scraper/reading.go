package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"horo-bot/internal/adapters/telegram"
)

const readingLimit = 3500

// Reading получает расклад дня с horo.mail.ru.
type Reading struct {
	client *Client
	url    string
}

// NewReading создаёт источник расклада дня.
func NewReading(client *Client, baseURL string) *Reading {
	return &Reading{client: client, url: strings.TrimRight(baseURL, "/") + "/divination/tarot/"}
}

// Fetch возвращает текст в разметке Markdown.
func (r *Reading) Fetch(ctx context.Context) (string, error) {
	data, err := r.client.do(ctx, request{
		op:     "tarot_reading",
		method: http.MethodGet,
		url:    r.url,
		headers: map[string]string{
			"User-Agent":      browserUserAgent,
			"Accept-Language": "ru-RU,ru;q=0.9",
		},
		timeout: 15 * time.Second,
	})
	if err != nil {
		return "", fmt.Errorf("fetch tarot reading: %w", err)
	}
	return parseReading(data)
}

func parseReading(data []byte) (string, error) {
	doc, err := parseDocument(data)
	if err != nil {
		return "", err
	}
	card := compactText(doc.Find("h2, .article__title, [data-qa='Title']").First())

	paragraphs := collectParagraphs(doc.Find("div[article-item-type='html'] p"))
	if len(paragraphs) == 0 {
		paragraphs = collectParagraphs(doc.Find("article p, .article__text p, .article__item p"))
	}
	if len(paragraphs) == 0 {
		return "", ErrNoContent
	}

	var b strings.Builder
	b.WriteString("🔮 *Расклад Таро*")
	if card != "" {
		b.WriteString("\n\n🃏 ")
		b.WriteString(card)
	}
	b.WriteString("\n\n")
	b.WriteString(telegram.Truncate(strings.Join(paragraphs, "\n\n"), readingLimit))
	return b.String(), nil
}

func collectParagraphs(sel *goquery.Selection) []string {
	var out []string
	sel.Each(func(_ int, p *goquery.Selection) {
		if text := compactText(p); utf8.RuneCountInString(text) > 20 {
			out = append(out, text)
		}
	})
	return out
}
