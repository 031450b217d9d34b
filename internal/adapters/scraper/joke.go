package scraper

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Joke получает случайный анекдот с nekdo.ru.
type Joke struct {
	client *Client
	url    string
}

// NewJoke создаёт источник анекдотов.
func NewJoke(client *Client, url string) *Joke {
	return &Joke{client: client, url: url}
}

// Fetch реализует domain.ContentFetcher. Тема игнорируется.
func (j *Joke) Fetch(ctx context.Context, _ string) (string, error) {
	data, err := j.client.do(ctx, request{
		op:      "joke",
		method:  http.MethodGet,
		url:     j.url,
		headers: map[string]string{"User-Agent": botUserAgent},
		timeout: 10 * time.Second,
	})
	if err != nil {
		return "", fmt.Errorf("fetch joke: %w", err)
	}
	return parseJoke(data)
}

func parseJoke(data []byte) (string, error) {
	doc, err := parseDocument(data)
	if err != nil {
		return "", err
	}
	sel := doc.Find("div.joke").First()
	if sel.Length() == 0 {
		sel = doc.Find("article").First()
	}
	if text := compactText(sel); text != "" {
		return text, nil
	}
	return "", ErrNoContent
}
