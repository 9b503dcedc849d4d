package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SmitUplenchwar2687/Carelink/internal/clock"
)

var epoch = time.Date(2025, 8, 25, 9, 0, 0, 0, time.UTC)

func newTestQueue(t *testing.T, opts ...Option) (*Queue, *clock.VirtualClock) {
	t.Helper()
	vc := clock.NewVirtualClock(epoch)
	q, err := New(context.Background(), append([]Option{WithClock(vc)}, opts...)...)
	require.NoError(t, err)
	return q, vc
}

func ok(result string) Handler {
	return func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(result), nil
	}
}

func failing(msg string) Handler {
	return func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New(msg)
	}
}

func TestQueue_DrainSingleSuccessEmptiesQueue(t *testing.T) {
	q, _ := newTestQueue(t)

	id, err := q.Enqueue("processHealthData", json.RawMessage(`{"bp":120}`))
	require.NoError(t, err)

	results, err := q.Drain(context.Background(), Handlers{"processHealthData": ok(`{"ok":true}`)})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, id, results[0].ID)
	require.True(t, results[0].Success)
	require.JSONEq(t, `{"ok":true}`, string(results[0].Result))
	require.Zero(t, q.Len())
}

func TestQueue_DrainKeepsOnlyFailedEntry(t *testing.T) {
	q, vc := newTestQueue(t)

	ids := make([]int64, 3)
	for i := range ids {
		var err error
		ids[i], err = q.Enqueue("syncPatientData", json.RawMessage(`{"n":`+strconv.Itoa(i)+`}`))
		require.NoError(t, err)
		vc.Advance(time.Millisecond)
	}

	h := func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
		if string(payload) == `{"n":1}` {
			return nil, errors.New("upstream unavailable")
		}
		return json.RawMessage(`null`), nil
	}

	results, err := q.Drain(context.Background(), Handlers{"syncPatientData": h})
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.True(t, results[0].Success)
	require.False(t, results[1].Success)
	require.Equal(t, "upstream unavailable", results[1].Error)
	require.True(t, results[2].Success)
	for i, r := range results {
		require.Equal(t, ids[i], r.ID, "results must follow enqueue order")
	}

	pending := q.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, ids[1], pending[0].ID)
	require.Equal(t, StatusPending, pending[0].Status)
	require.Equal(t, 1, pending[0].Attempts)
	require.Equal(t, "upstream unavailable", pending[0].LastError)
}

func TestQueue_SecondDrainIsEmpty(t *testing.T) {
	q, _ := newTestQueue(t)
	_, err := q.Enqueue("generateHealthReport", nil)
	require.NoError(t, err)

	handlers := Handlers{"generateHealthReport": ok(`{}`)}
	first, err := q.Drain(context.Background(), handlers)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := q.Drain(context.Background(), handlers)
	require.NoError(t, err)
	require.NotNil(t, second)
	require.Empty(t, second)
}

func TestQueue_DrainEmptyIsNoop(t *testing.T) {
	store := NewMemoryStore()
	q, _ := newTestQueue(t, WithStore(store))

	results, err := q.Drain(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, results)
	require.Zero(t, store.Saves())
}

func TestQueue_UnknownFunctionAndPanicAreFailures(t *testing.T) {
	q, vc := newTestQueue(t)

	_, err := q.Enqueue("assessHealthRisk", nil)
	require.NoError(t, err)
	vc.Advance(time.Millisecond)
	_, err = q.Enqueue("setupHealthReminders", nil)
	require.NoError(t, err)

	handlers := Handlers{
		"setupHealthReminders": func(context.Context, json.RawMessage) (json.RawMessage, error) {
			panic("boom")
		},
	}
	results, err := q.Drain(context.Background(), handlers)
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.False(t, results[0].Success)
	require.Contains(t, results[0].Error, ErrUnknownFunction.Error())
	require.False(t, results[1].Success)
	require.Contains(t, results[1].Error, "handler panic: boom")
	require.Equal(t, 2, q.Len())
}

func TestQueue_EnqueueIDsStrictlyIncrease(t *testing.T) {
	q, vc := newTestQueue(t)

	a, err := q.Enqueue("f", nil)
	require.NoError(t, err)
	b, err := q.Enqueue("f", nil)
	require.NoError(t, err)
	c, err := q.Enqueue("f", nil)
	require.NoError(t, err)

	require.Equal(t, clock.Millis(epoch), a)
	require.Equal(t, a+1, b)
	require.Equal(t, b+1, c)

	vc.Advance(time.Second)
	d, err := q.Enqueue("f", nil)
	require.NoError(t, err)
	require.Equal(t, clock.Millis(epoch.Add(time.Second)), d)
}

func TestQueue_EnqueueRejectsBlankName(t *testing.T) {
	q, _ := newTestQueue(t)
	_, err := q.Enqueue("  ", nil)
	require.ErrorIs(t, err, ErrEmptyFunctionName)
	require.Zero(t, q.Len())
}

func TestQueue_ConcurrentDrainReturnsErrDrainInProgress(t *testing.T) {
	q, _ := newTestQueue(t)
	_, err := q.Enqueue("syncPatientData", nil)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	h := func(context.Context, json.RawMessage) (json.RawMessage, error) {
		close(started)
		<-release
		return nil, nil
	}

	var (
		wg       sync.WaitGroup
		results  []Result
		drainErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results, drainErr = q.Drain(context.Background(), Handlers{"syncPatientData": h})
	}()

	<-started
	require.True(t, q.Draining())

	_, err = q.Drain(context.Background(), Handlers{"syncPatientData": h})
	require.ErrorIs(t, err, ErrDrainInProgress)

	// Enqueue must not wait for the running handler.
	lateID, err := q.Enqueue("syncPatientData", nil)
	require.NoError(t, err)

	close(release)
	wg.Wait()

	require.NoError(t, drainErr)
	require.Len(t, results, 1)
	require.False(t, q.Draining())

	pending := q.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, lateID, pending[0].ID)
}

func TestQueue_DeadLetterAfterMaxAttempts(t *testing.T) {
	q, _ := newTestQueue(t, WithMaxAttempts(2))
	id, err := q.Enqueue("checkMedicationInteractions", nil)
	require.NoError(t, err)

	handlers := Handlers{"checkMedicationInteractions": failing("timeout")}

	results, err := q.Drain(context.Background(), handlers)
	require.NoError(t, err)
	require.False(t, results[0].DeadLettered)
	require.Equal(t, 1, q.Len())

	results, err = q.Drain(context.Background(), handlers)
	require.NoError(t, err)
	require.True(t, results[0].DeadLettered)
	require.Zero(t, q.Len())

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	require.Equal(t, id, dead[0].ID)
	require.Equal(t, StatusFailed, dead[0].Status)
	require.Equal(t, 2, dead[0].Attempts)

	require.NoError(t, q.Requeue(id))
	require.Empty(t, q.DeadLetters())
	pending := q.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, StatusPending, pending[0].Status)
	require.Zero(t, pending[0].Attempts)
	require.Empty(t, pending[0].LastError)
}

func TestQueue_MaxAttemptsZeroNeverDeadLetters(t *testing.T) {
	q, _ := newTestQueue(t, WithMaxAttempts(0))
	_, err := q.Enqueue("f", nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := q.Drain(context.Background(), Handlers{"f": failing("no")})
		require.NoError(t, err)
	}
	require.Equal(t, 1, q.Len())
	require.Equal(t, 10, q.Pending()[0].Attempts)
	require.Empty(t, q.DeadLetters())
}

func TestQueue_RequeueRestoresOrder(t *testing.T) {
	q, vc := newTestQueue(t, WithMaxAttempts(1))

	first, err := q.Enqueue("a", nil)
	require.NoError(t, err)
	_, err = q.Drain(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, q.DeadLetters(), 1)

	vc.Advance(time.Second)
	second, err := q.Enqueue("b", nil)
	require.NoError(t, err)

	require.NoError(t, q.Requeue(first))
	pending := q.Pending()
	require.Equal(t, []int64{first, second}, []int64{pending[0].ID, pending[1].ID})
}

func TestQueue_RemoveAndGet(t *testing.T) {
	q, _ := newTestQueue(t)
	id, err := q.Enqueue("f", json.RawMessage(`{"x":1}`))
	require.NoError(t, err)

	got, err := q.Get(id)
	require.NoError(t, err)
	require.Equal(t, "f", got.FunctionName)
	require.True(t, got.EnqueuedAt.Equal(epoch))

	require.NoError(t, q.Remove(id))
	require.ErrorIs(t, q.Remove(id), ErrNotFound)
	_, err = q.Get(id)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, q.Requeue(id), ErrNotFound)
}

func TestQueue_DrainStopsOnCancel(t *testing.T) {
	q, vc := newTestQueue(t)
	for i := 0; i < 3; i++ {
		_, err := q.Enqueue("f", nil)
		require.NoError(t, err)
		vc.Advance(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := func(context.Context, json.RawMessage) (json.RawMessage, error) {
		cancel()
		return nil, nil
	}

	results, err := q.Drain(ctx, Handlers{"f": h})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	require.Equal(t, 2, q.Len())
}

func TestQueue_PersistsAndRestores(t *testing.T) {
	store := NewMemoryStore()
	q, vc := newTestQueue(t, WithStore(store), WithMaxAttempts(1))

	deadID, err := q.Enqueue("a", nil)
	require.NoError(t, err)
	_, err = q.Drain(context.Background(), nil)
	require.NoError(t, err)

	vc.Advance(time.Second)
	pendingID, err := q.Enqueue("b", json.RawMessage(`[1,2]`))
	require.NoError(t, err)

	restored, err := New(context.Background(), WithClock(vc), WithStore(store))
	require.NoError(t, err)
	require.Equal(t, []Request{q.Pending()[0]}, restored.Pending())
	require.Equal(t, deadID, restored.DeadLetters()[0].ID)

	// IDs continue after the restored maximum.
	next, err := restored.Enqueue("c", nil)
	require.NoError(t, err)
	require.Equal(t, pendingID+1, next)
}

func TestQueue_Events(t *testing.T) {
	q, _ := newTestQueue(t)

	var events []EventType
	q.Subscribe(func(ev Event) { events = append(events, ev.Type) })

	_, err := q.Enqueue("f", nil)
	require.NoError(t, err)
	_, err = q.Drain(context.Background(), Handlers{"f": ok(`1`)})
	require.NoError(t, err)

	require.Equal(t, []EventType{EventEnqueued, EventDrainStarted, EventSucceeded, EventDrainFinished}, events)
}

func TestWithTimeout(t *testing.T) {
	slow := func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	_, err := WithTimeout(slow, 10*time.Millisecond)(context.Background(), nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	h := ok(`1`)
	out, err := WithTimeout(h, 0)(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, json.RawMessage(`1`), out)
}
