package scraper

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"math/rand/v2"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/encoding/charmap"
)

const deckSize = 156

// Spread описывает расклад astrocentr.ru.
type Spread struct {
	Key         string
	Path        string
	Title       string
	Description string
	Cards       int
}

var spreads = map[string]Spread{
	"three_cards": {
		Key:         "three_cards",
		Path:        "/index.php?przd=taro&str=3cards",
		Title:       "🃏 Расклад «Три карты»",
		Description: "Прошлое · Настоящее · Будущее",
		Cards:       3,
	},
	"lovers": {
		Key:         "lovers",
		Path:        "/index.php?przd=taro&str=rasklad_vlublennye",
		Title:       "💕 Расклад «Влюблённые»",
		Description: "Расклад на отношения и любовь",
		Cards:       4,
	},
}

// SpreadByKey ищет расклад по ключу.
func SpreadByKey(key string) (Spread, bool) {
	s, ok := spreads[key]
	return s, ok
}

// Spreads возвращает расклады, упорядоченные по числу карт.
func Spreads() []Spread {
	out := make([]Spread, 0, len(spreads))
	for _, s := range spreads {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cards < out[j].Cards })
	return out
}

// Spreader делает расклады на astrocentr.ru.
type Spreader struct {
	client  *Client
	baseURL string
	rnd     func(n int) []int
}

// NewSpreader создаёт источник раскладов.
func NewSpreader(client *Client, baseURL string) *Spreader {
	return &Spreader{client: client, baseURL: strings.TrimRight(baseURL, "/"), rnd: randomCards}
}

// Fetch делает расклад и возвращает текст в HTML-разметке Telegram.
func (s *Spreader) Fetch(ctx context.Context, key string) (string, error) {
	spread, ok := spreads[key]
	if !ok {
		return "", fmt.Errorf("unknown spread %q", key)
	}
	target := s.baseURL + spread.Path
	data, err := s.client.do(ctx, request{
		op:     "spread",
		method: http.MethodPost,
		url:    target,
		form:   url.Values{"act": {cardIDs(s.rnd(spread.Cards))}},
		headers: map[string]string{
			"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
			"Referer":    target,
		},
		timeout: 15 * time.Second,
	})
	if err != nil {
		return "", fmt.Errorf("fetch spread %s: %w", key, err)
	}
	return parseSpread(data)
}

// randomCards выбирает n разных номеров карт из колоды сайта.
func randomCards(n int) []int {
	perm := rand.Perm(deckSize)
	out := make([]int, n)
	for i := range out {
		out[i] = perm[i] + 1
	}
	return out
}

func cardIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, "i")
}

func parseSpread(data []byte) (string, error) {
	reader := charmap.Windows1251.NewDecoder().Reader(bytes.NewReader(data))
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return "", err
	}
	body := doc.Find("div.main_text").First()
	if body.Length() == 0 {
		return "", ErrNoContent
	}

	lines := textLines(body)
	var content []string
	started := false
	for _, line := range lines {
		if !started && strings.Contains(line, "Вам выпали карты") {
			started = true
			continue
		}
		if started {
			content = append(content, line)
		}
	}
	if len(content) == 0 && len(lines) > 3 {
		content = lines[3:]
	}

	text := formatSpread(content)
	if text == "" {
		return "", ErrNoContent
	}
	return text, nil
}

var (
	positionRe  = regexp.MustCompile(`^(\d+)\s*[–—-]\s*(.+)`)
	blankRunsRe = regexp.MustCompile(`\n{3,}`)
	spaceRunsRe = regexp.MustCompile(`[ \t]+`)
)

const spreadDivider = "━━━━━━━━━━━━━━━"

func formatSpread(lines []string) string {
	var parts []string
	expectCard := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || isDigits(line) {
			continue
		}
		if positionRe.MatchString(line) {
			parts = append(parts, "\n"+spreadDivider+"\n📍 "+html.EscapeString(line)+"\n")
			expectCard = true
			continue
		}
		if expectCard {
			parts = append(parts, "🔮 <b>"+html.EscapeString(line)+"</b>\n")
			expectCard = false
			continue
		}
		parts = append(parts, html.EscapeString(line))
	}
	text := blankRunsRe.ReplaceAllString(strings.Join(parts, "\n"), "\n\n")
	text = spaceRunsRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
