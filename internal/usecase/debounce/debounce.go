// Package debounce подавляет повторные нажатия одной и той же кнопки.
//
// Кэш живёт только в памяти процесса, создаётся один раз при старте и
// передаётся обработчику явно. Перезапуск сбрасывает состояние.
package debounce

import (
	"container/list"
	"sync"
	"time"
)

const (
	// DefaultWindow: окно подавления повторов.
	DefaultWindow = time.Second
	// DefaultMaxEntries: предельный размер кэша.
	DefaultMaxEntries = 5000
)

type key struct {
	userID  int64
	payload string
}

type entry struct {
	key  key
	seen time.Time
}

// Debouncer хранит время последнего нажатия по паре (пользователь, payload).
// Записи упорядочены по времени вставки: старые удаляются первыми.
type Debouncer struct {
	window     time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	order   *list.List
	entries map[key]*list.Element
}

// Option настраивает Debouncer.
type Option func(*Debouncer)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(d *Debouncer) { d.now = now }
}

// New создаёт Debouncer. Неположительные значения заменяются значениями по умолчанию.
func New(window time.Duration, maxEntries int, opts ...Option) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	d := &Debouncer{
		window:     window,
		maxEntries: maxEntries,
		now:        time.Now,
		order:      list.New(),
		entries:    make(map[key]*list.Element),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// IsDuplicate возвращает true, если такое же нажатие было меньше окна назад.
// Иначе запоминает текущее время и возвращает false.
func (d *Debouncer) IsDuplicate(userID int64, payload string) bool {
	now := d.now()
	k := key{userID: userID, payload: payload}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.purgeExpired(now)

	if el, ok := d.entries[k]; ok {
		if now.Sub(el.Value.(*entry).seen) < d.window {
			return true
		}
		d.order.Remove(el)
		delete(d.entries, k)
	}

	d.entries[k] = d.order.PushBack(&entry{key: k, seen: now})
	for d.order.Len() > d.maxEntries {
		d.evict(d.order.Front())
	}
	return false
}

// Len возвращает текущее число записей.
func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}

func (d *Debouncer) purgeExpired(now time.Time) {
	for el := d.order.Front(); el != nil; el = d.order.Front() {
		if now.Sub(el.Value.(*entry).seen) < d.window {
			return
		}
		d.evict(el)
	}
}

func (d *Debouncer) evict(el *list.Element) {
	e := d.order.Remove(el).(*entry)
	delete(d.entries, e.key)
}
