// Package pool ограничивает число одновременно выполняемых блокирующих задач.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// ErrPanic оборачивает панику, перехваченную внутри задачи.
var ErrPanic = errors.New("worker panic")

// Pool выполняет задачи с ограничением параллелизма.
type Pool struct {
	sem *semaphore.Weighted
	log zerolog.Logger
}

// New создаёт пул на size слотов.
func New(size int, log zerolog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), log: log}
}

// Do ждёт свободный слот и выполняет fn в текущей горутине.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("pool: паника в задаче")
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn(ctx)
}
