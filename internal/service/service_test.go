package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SmitUplenchwar2687/Carelink/internal/clock"
	"github.com/SmitUplenchwar2687/Carelink/internal/connectivity"
	"github.com/SmitUplenchwar2687/Carelink/internal/functions"
	"github.com/SmitUplenchwar2687/Carelink/internal/limiter"
	"github.com/SmitUplenchwar2687/Carelink/internal/queue"
)

var epoch = time.Date(2025, 8, 25, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	clock *clock.VirtualClock
	queue *queue.Queue
	mon   *connectivity.Monitor
	calls atomic.Int32
}

func newFixture(t *testing.T, online bool, limit int) *fixture {
	t.Helper()
	f := &fixture{clock: clock.NewVirtualClock(epoch)}

	q, err := queue.New(context.Background(), queue.WithClock(f.clock))
	require.NoError(t, err)
	f.queue = q
	f.mon = connectivity.New(online, connectivity.WithClock(f.clock))

	handlers := functions.Echo()
	echo := handlers[functions.SyncPatientData]
	handlers[functions.SyncPatientData] = func(ctx context.Context, p json.RawMessage) (json.RawMessage, error) {
		f.calls.Add(1)
		return echo(ctx, p)
	}
	handlers[functions.AssessHealthRisk] = func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("model offline")
	}

	svc, err := New(Options{
		Limiter:  limiter.NewSlidingWindow(limiter.Config{Limit: limit, Window: time.Minute}, f.clock),
		Queue:    q,
		Monitor:  f.mon,
		Handlers: handlers,
		Clock:    f.clock,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestInvoke_OnlineExecutes(t *testing.T) {
	f := newFixture(t, true, 10)

	out, err := f.svc.Invoke(context.Background(), "alice", functions.SyncPatientData, json.RawMessage(`{"id":7}`))
	require.NoError(t, err)
	require.False(t, out.Queued)
	require.JSONEq(t, `{"function":"syncPatientData","echo":{"id":7}}`, string(out.Result))
	require.True(t, out.Decision.Allowed)
	require.Equal(t, 9, out.Decision.Remaining)
	require.Equal(t, int32(1), f.calls.Load())
}

func TestInvoke_OfflineQueuesAndReconnectDrains(t *testing.T) {
	f := newFixture(t, false, 10)

	out, err := f.svc.Invoke(context.Background(), "alice", functions.SyncPatientData, json.RawMessage(`{"id":7}`))
	require.NoError(t, err)
	require.True(t, out.Queued)
	require.Equal(t, clock.Millis(epoch), out.RequestID)
	require.Zero(t, f.calls.Load())

	st := f.svc.Status()
	require.False(t, st.Online)
	require.Equal(t, 1, st.PendingRequests)
	require.Nil(t, st.LastSync)

	f.clock.Advance(time.Minute)
	require.True(t, f.svc.SetOnline(context.Background(), true))
	f.mon.Wait()

	require.Equal(t, int32(1), f.calls.Load())
	st = f.svc.Status()
	require.True(t, st.Online)
	require.Zero(t, st.PendingRequests)
	require.NotNil(t, st.LastSync)
	require.True(t, st.LastSync.Equal(epoch.Add(time.Minute)))

	results := f.svc.LastResults()
	require.Len(t, results, 1)
	require.True(t, results[0].Success)
}

func TestInvoke_RateLimitedBeforeQueueing(t *testing.T) {
	f := newFixture(t, false, 1)

	_, err := f.svc.Invoke(context.Background(), "bob", functions.SyncPatientData, nil)
	require.NoError(t, err)

	out, err := f.svc.Invoke(context.Background(), "bob", functions.SyncPatientData, nil)
	require.ErrorIs(t, err, ErrRateLimited)
	require.False(t, out.Queued)
	require.False(t, out.Decision.Allowed)
	require.True(t, out.Decision.RetryAt.Equal(epoch.Add(time.Minute)))
	require.Equal(t, 1, f.queue.Len())

	// Quota is per function.
	_, err = f.svc.Invoke(context.Background(), "bob", functions.GenerateHealthReport, nil)
	require.NoError(t, err)
}

func TestInvoke_UnknownAndEmptyFunction(t *testing.T) {
	f := newFixture(t, true, 10)

	_, err := f.svc.Invoke(context.Background(), "alice", "dropTables", nil)
	require.ErrorIs(t, err, queue.ErrUnknownFunction)

	_, err = f.svc.Invoke(context.Background(), "alice", " ", nil)
	require.ErrorIs(t, err, queue.ErrEmptyFunctionName)
}

func TestInvoke_OnlineHandlerErrorIsReturned(t *testing.T) {
	f := newFixture(t, true, 10)

	_, err := f.svc.Invoke(context.Background(), "alice", functions.AssessHealthRisk, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "model offline")
	require.Zero(t, f.queue.Len())
}

func TestDrain_FailedEntryStaysQueued(t *testing.T) {
	f := newFixture(t, false, 10)

	_, err := f.svc.Invoke(context.Background(), "alice", functions.AssessHealthRisk, nil)
	require.NoError(t, err)
	f.clock.Advance(time.Millisecond)
	_, err = f.svc.Invoke(context.Background(), "alice", functions.SyncPatientData, nil)
	require.NoError(t, err)

	results, err := f.svc.Drain(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.False(t, results[0].Success)
	require.True(t, results[1].Success)

	st := f.svc.Status()
	require.Equal(t, 1, st.PendingRequests)
	require.Equal(t, functions.AssessHealthRisk, f.queue.Pending()[0].FunctionName)
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	q, err := queue.New(context.Background())
	require.NoError(t, err)
	_, err = New(Options{Limiter: limiter.NewSlidingWindow(limiter.DefaultConfig(), nil), Queue: q})
	require.Error(t, err)
}

func TestFunctionsSorted(t *testing.T) {
	f := newFixture(t, true, 10)
	names := f.svc.Functions()
	require.Len(t, names, len(functions.Names()))
	require.IsNonDecreasing(t, names)
}

func TestInvoke_QueuedDuringReconnectDrainIsReplayed(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	q, err := queue.New(context.Background(), queue.WithClock(vc))
	require.NoError(t, err)
	mon := connectivity.New(false, connectivity.WithClock(vc))

	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	var calls atomic.Int32
	handlers := queue.Handlers{
		functions.SyncPatientData: func(_ context.Context, p json.RawMessage) (json.RawMessage, error) {
			if calls.Add(1) == 1 {
				entered <- struct{}{}
				<-release
			}
			return p, nil
		},
	}
	svc, err := New(Options{
		Limiter:  limiter.NewSlidingWindow(limiter.Config{Limit: 10, Window: time.Minute}, vc),
		Queue:    q,
		Monitor:  mon,
		Handlers: handlers,
		Clock:    vc,
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = svc.Invoke(ctx, "alice", functions.SyncPatientData, json.RawMessage(`1`))
	require.NoError(t, err)

	svc.SetOnline(ctx, true)
	<-entered

	// Connection drops and returns while the first drain is blocked.
	svc.SetOnline(ctx, false)
	vc.Advance(time.Second)
	out, err := svc.Invoke(ctx, "alice", functions.SyncPatientData, json.RawMessage(`2`))
	require.NoError(t, err)
	require.True(t, out.Queued)
	svc.SetOnline(ctx, true)

	close(release)
	mon.Wait()

	st := svc.Status()
	require.True(t, st.Online)
	require.Zero(t, st.PendingRequests)
	require.Equal(t, int32(2), calls.Load())
}

func TestResume_DrainsRestoredQueueWhenOnline(t *testing.T) {
	f := newFixture(t, true, 10)
	require.False(t, f.svc.Resume(context.Background()), "empty queue")

	_, err := f.queue.Enqueue(functions.SyncPatientData, json.RawMessage(`{"id":1}`))
	require.NoError(t, err)

	require.True(t, f.svc.Resume(context.Background()))
	f.mon.Wait()
	require.Zero(t, f.queue.Len())
	require.Equal(t, int32(1), f.calls.Load())
}

func TestResume_OfflineDoesNothing(t *testing.T) {
	f := newFixture(t, false, 10)
	_, err := f.queue.Enqueue(functions.SyncPatientData, nil)
	require.NoError(t, err)

	require.False(t, f.svc.Resume(context.Background()))
	f.mon.Wait()
	require.Equal(t, 1, f.queue.Len())
}
