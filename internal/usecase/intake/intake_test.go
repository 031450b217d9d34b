package intake

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memUpdates struct {
	mu   sync.Mutex
	seen map[int64]struct{}
	err  error
}

func (m *memUpdates) InsertProcessedUpdate(_ context.Context, id int64) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[int64]struct{})
	}
	if _, ok := m.seen[id]; ok {
		return false, nil
	}
	m.seen[id] = struct{}{}
	return true, nil
}

func decode(t *testing.T, body string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	require.NoError(t, dec.Decode(&raw))
	return raw
}

func TestTryAdmitSequential(t *testing.T) {
	g := NewGate(&memUpdates{}, time.Minute, zerolog.Nop())
	first, err := g.TryAdmit(context.Background(), 7)
	require.NoError(t, err)
	second, err := g.TryAdmit(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
}

func TestTryAdmitConcurrentExactlyOnce(t *testing.T) {
	g := NewGate(&memUpdates{}, time.Minute, zerolog.Nop())
	const n = 64
	var wg sync.WaitGroup
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := g.TryAdmit(context.Background(), 99)
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)
	admitted := 0
	for ok := range results {
		if ok {
			admitted++
		}
	}
	assert.Equal(t, 1, admitted)
}

func TestTryAdmitPropagatesStoreFailure(t *testing.T) {
	g := NewGate(&memUpdates{err: errors.New("db down")}, time.Minute, zerolog.Nop())
	_, err := g.TryAdmit(context.Background(), 1)
	assert.Error(t, err)
}

func TestIsStaleMonotonic(t *testing.T) {
	const now, threshold = int64(10_000), int64(300)
	assert.False(t, IsStale(now-10, now, threshold))
	assert.False(t, IsStale(now-threshold, now, threshold))
	assert.True(t, IsStale(now-threshold-1, now, threshold))
	assert.False(t, IsStale(0, now, threshold), "апдейт без даты не устаревает")
}

func TestExtractTimestamp(t *testing.T) {
	assert.EqualValues(t, 1234567890, ExtractTimestamp(decode(t, `{"message":{"date":1234567890}}`)))
	assert.EqualValues(t, 1234567891, ExtractTimestamp(decode(t, `{"edited_message":{"date":1234567891}}`)))
	assert.EqualValues(t, 1234567999, ExtractTimestamp(decode(t, `{"callback_query":{"message":{"date":1234567999}}}`)))
	assert.EqualValues(t, 0, ExtractTimestamp(decode(t, `{"update_id":1}`)))
}

func TestExtractUpdateID(t *testing.T) {
	id, ok := ExtractUpdateID(decode(t, `{"update_id":123456789}`))
	assert.True(t, ok)
	assert.EqualValues(t, 123456789, id)

	id, ok = ExtractUpdateID(decode(t, `{"update_id":"42"}`))
	assert.True(t, ok)
	assert.EqualValues(t, 42, id)

	_, ok = ExtractUpdateID(decode(t, `{"update_id":"abc"}`))
	assert.False(t, ok)
	_, ok = ExtractUpdateID(decode(t, `{"update_id":true}`))
	assert.False(t, ok)
	_, ok = ExtractUpdateID(decode(t, `{"message":{}}`))
	assert.False(t, ok)
}

func TestAdmitPipeline(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := NewGate(&memUpdates{}, 5*time.Minute, zerolog.Nop(), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	fresh := decode(t, `{"update_id":1,"message":{"date":1699999990,"text":"/start"}}`)
	decision, err := g.Admit(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, Accepted, decision)

	decision, err = g.Admit(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, decision)

	old := decode(t, `{"update_id":2,"message":{"date":1699990000}}`)
	decision, err = g.Admit(ctx, old)
	require.NoError(t, err)
	assert.Equal(t, Stale, decision)

	noDate := decode(t, `{"update_id":3,"pre_checkout_query":{"id":"q"}}`)
	decision, err = g.Admit(ctx, noDate)
	require.NoError(t, err)
	assert.Equal(t, Accepted, decision)
}

func TestAdmitUnfencedPolicy(t *testing.T) {
	raw := map[string]any{"message": map[string]any{"text": "hi"}}

	strict := NewGate(&memUpdates{}, time.Minute, zerolog.Nop())
	decision, err := strict.Admit(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, Unfenced, decision)

	lenient := NewGate(&memUpdates{}, time.Minute, zerolog.Nop(), WithUnfencedAdmission(true))
	for i := 0; i < 2; i++ {
		decision, err = lenient.Admit(context.Background(), raw)
		require.NoError(t, err)
		assert.Equal(t, Accepted, decision)
	}
}
