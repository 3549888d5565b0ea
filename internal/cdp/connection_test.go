package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestConnection_Request_CorrelatesResponseByID(t *testing.T) {
	t.Parallel()

	d := newMockDialer(resultResponder(`{"targetInfos":[]}`))
	c := newTestConnection(t, d, testOptions())

	result, err := c.Request(context.Background(), "Target.getTargets", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"targetInfos":[]}`, string(result))

	written := d.conn(0).getWritten()
	require.Len(t, written, 1)
	assert.Equal(t, int64(1), written[0].ID)
	assert.Equal(t, "Target.getTargets", written[0].Method)
	assert.Empty(t, written[0].SessionID)
	assert.Equal(t, StatusConnected, c.Status())
}

func TestConnection_RequestToSession_SendsSessionID(t *testing.T) {
	t.Parallel()

	d := newMockDialer(resultResponder(`{}`))
	c := newTestConnection(t, d, testOptions())

	_, err := c.RequestToSession(context.Background(), "S1", "Page.enable", map[string]any{})
	require.NoError(t, err)

	written := d.conn(0).getWritten()
	require.Len(t, written, 1)
	assert.Equal(t, "S1", written[0].SessionID)
	assert.JSONEq(t, `{}`, string(written[0].Params))
}

func TestConnection_NoSocketUntilFirstRequest(t *testing.T) {
	t.Parallel()

	d := newMockDialer(resultResponder(`{}`))
	c := newTestConnection(t, d, testOptions())

	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Zero(t, d.dialCount())
}

func TestConnection_ConcurrentCallersShareOneSocket(t *testing.T) {
	t.Parallel()

	const callers = 10

	d := newMockDialer(resultResponder(`{"ok":true}`))
	d.gate = make(chan struct{})
	c := newTestConnection(t, d, testOptions())

	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			_, err := c.Request(context.Background(), "Test.method", nil)
			return err
		})
	}

	require.Eventually(t, func() bool { return c.Status() == StatusConnecting }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(d.gate)

	require.NoError(t, g.Wait())
	assert.Equal(t, 1, d.dialCount())
	assert.Len(t, d.conn(0).getWritten(), callers)
}

func TestConnection_NonRetryableErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	d := newMockDialer(func(req Request) []string {
		return []string{fmt.Sprintf(`{"id":%d,"error":{"code":-32601,"message":"'Foo.bar' wasn't found"}}`, req.ID)}
	})
	c := newTestConnection(t, d, testOptions())

	_, err := c.Request(context.Background(), "Foo.bar", nil)
	require.Error(t, err)

	var cdpErr *Error
	require.ErrorAs(t, err, &cdpErr)
	assert.Equal(t, -32601, cdpErr.Code)
	assert.Equal(t, "'Foo.bar' wasn't found", cdpErr.Message)
	assert.Equal(t, int64(1), cdpErr.RequestID)
	assert.Len(t, d.conn(0).getWritten(), 1)
}

func TestConnection_RetryableErrorIsRetried(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0
	d := newMockDialer(func(req Request) []string {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return []string{fmt.Sprintf(`{"id":%d,"error":{"code":-32001,"message":"busy"}}`, req.ID)}
		}
		return []string{fmt.Sprintf(`{"id":%d,"result":{"done":true}}`, req.ID)}
	})
	c := newTestConnection(t, d, testOptions())

	result, err := c.Request(context.Background(), "Test.method", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"done":true}`, string(result))

	written := d.conn(0).getWritten()
	require.Len(t, written, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{written[0].ID, written[1].ID, written[2].ID})
}

func TestConnection_RetriesExhausted(t *testing.T) {
	t.Parallel()

	d := newMockDialer(func(req Request) []string {
		return []string{fmt.Sprintf(`{"id":%d,"error":{"code":-32001,"message":"busy"}}`, req.ID)}
	})
	c := newTestConnection(t, d, testOptions())

	_, err := c.Request(context.Background(), "Test.method", nil)
	require.Error(t, err)

	var cdpErr *Error
	require.ErrorAs(t, err, &cdpErr)
	assert.Equal(t, -32001, cdpErr.Code)
	assert.Equal(t, int64(4), cdpErr.RequestID)
	assert.Len(t, d.conn(0).getWritten(), 4)
}

func TestConnection_RequestTimeout(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.RequestTimeout = 50 * time.Millisecond
	opts.RequestRetries = 0

	d := newMockDialer(silentResponder)
	c := newTestConnection(t, d, opts)

	start := time.Now()
	_, err := c.Request(context.Background(), "Target.getTargets", nil)
	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	var cdpErr *Error
	require.ErrorAs(t, err, &cdpErr)
	assert.Equal(t, int64(1), cdpErr.RequestID)
	assert.Zero(t, c.Health().Pending)

	// A late answer for the expired request is ignored
	d.conn(0).inject(`{"id":1,"result":{}}`)

	d.conn(0).mu.Lock()
	d.conn(0).respond = resultResponder(`{"after":true}`)
	d.conn(0).mu.Unlock()

	result, err := c.Request(context.Background(), "Target.getTargets", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"after":true}`, string(result))
}

func TestConnection_SlowWriteCountsAgainstRequestTimeout(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.RequestTimeout = 200 * time.Millisecond
	opts.RequestRetries = 0

	d := newMockDialer(silentResponder)
	d.setup = func(i int, c *mockConn) {
		c.writeDelay = 150 * time.Millisecond
	}
	c := newTestConnection(t, d, opts)

	start := time.Now()
	_, err := c.Request(context.Background(), "Target.getTargets", nil)
	require.ErrorIs(t, err, ErrTimeout)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 300*time.Millisecond)
}

func TestConnection_TimeoutsAreRetriedWithoutBackoff(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.RequestTimeout = 30 * time.Millisecond
	opts.RequestRetries = 2
	opts.RequestBackoffBase = time.Hour

	d := newMockDialer(silentResponder)
	c := newTestConnection(t, d, opts)

	_, err := c.Request(context.Background(), "Target.getTargets", nil)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Len(t, d.conn(0).getWritten(), 3)
}

func TestConnection_ConnectTimeoutsThenSuccess(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.ConnectionTimeout = 20 * time.Millisecond
	opts.ConnectionBackoffBase = time.Hour

	d := newMockDialer(resultResponder(`{"targetInfos":[]}`))
	d.failures = []error{errDialHang, errDialHang, errDialHang}
	c := newTestConnection(t, d, opts)

	result, err := c.Request(context.Background(), "Target.getTargets", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"targetInfos":[]}`, string(result))
	assert.Equal(t, 4, d.dialCount())
	assert.Equal(t, 1, c.Health().Connects)
}

func TestConnection_ConnectRetriesExhausted(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.RequestRetries = 0

	refused := errors.New("connection refused")
	d := newMockDialer(resultResponder(`{}`))
	d.failures = []error{refused, refused, refused, refused}
	c := newTestConnection(t, d, opts)

	_, err := c.Request(context.Background(), "Target.getTargets", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
	assert.Contains(t, err.Error(), "after 4 attempts")
	assert.Equal(t, 4, d.dialCount())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.NotEmpty(t, c.Health().LastError)
}

func TestConnection_CloseAbortsInFlightRequests(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.RequestTimeout = 10 * time.Second

	d := newMockDialer(silentResponder)
	c, err := NewConnection(context.Background(), StaticEndpoint("ws://test"), WithDialer(d.Dial), WithOptions(opts))
	require.NoError(t, err)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.Request(context.Background(), "Target.getTargets", nil)
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return c.Health().Pending == 2 }, time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, c.Close())
	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrConnectionTerminated)
		case <-time.After(time.Second):
			t.Fatal("request did not fail after close")
		}
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, d.conn(0).getWritten(), 2)
	assert.True(t, d.conn(0).isClosed())
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	d := newMockDialer(resultResponder(`{}`))
	c := newTestConnection(t, d, testOptions())

	_, err := c.Request(context.Background(), "Test.method", nil)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, StatusClosed, c.Status())

	_, err = c.Request(context.Background(), "Test.method", nil)
	require.ErrorIs(t, err, ErrConnectionTerminated)
	assert.Equal(t, 1, d.dialCount())
}

func TestConnection_CloseReleasesConnectingCallers(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.ConnectionTimeout = 10 * time.Second

	d := newMockDialer(resultResponder(`{}`))
	d.failures = []error{errDialHang}
	c, err := NewConnection(context.Background(), StaticEndpoint("ws://test"), WithDialer(d.Dial), WithOptions(opts))
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), "Test.method", nil)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return d.dialCount() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrConnectionTerminated)
	case <-time.After(time.Second):
		t.Fatal("connecting caller was not released by close")
	}
}

func TestConnection_RequestIDWrapsAround(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.MaxRequestID = 3

	d := newMockDialer(resultResponder(`{}`))
	c := newTestConnection(t, d, opts)

	for i := 0; i < 5; i++ {
		_, err := c.Request(context.Background(), "Test.method", nil)
		require.NoError(t, err)
	}

	var ids []int64
	for _, req := range d.conn(0).getWritten() {
		ids = append(ids, req.ID)
	}
	assert.Equal(t, []int64{1, 2, 3, 1, 2}, ids)
}

func TestConnection_MalformedResponseFailsOnlyItsRequest(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.RequestRetries = 0

	d := newMockDialer(func(req Request) []string {
		if req.Method == "Broken.method" {
			return []string{fmt.Sprintf(`{"id":%d,"result":{"value":`, req.ID)}
		}
		return []string{fmt.Sprintf(`{"id":%d,"result":{"fine":true}}`, req.ID)}
	})
	c := newTestConnection(t, d, opts)

	start := time.Now()
	_, err := c.Request(context.Background(), "Broken.method", nil)
	require.ErrorIs(t, err, ErrMalformedResponse)
	assert.Less(t, time.Since(start), opts.RequestTimeout)

	var cdpErr *Error
	require.ErrorAs(t, err, &cdpErr)
	assert.Equal(t, int64(1), cdpErr.RequestID)

	result, err := c.Request(context.Background(), "Fine.method", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"fine":true}`, string(result))
}

func TestConnection_ResponseWithoutResultOrError(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.RequestRetries = 0

	d := newMockDialer(func(req Request) []string {
		return []string{fmt.Sprintf(`{"id":%d}`, req.ID)}
	})
	c := newTestConnection(t, d, opts)

	_, err := c.Request(context.Background(), "Test.method", nil)
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestConnection_ReconnectsAfterSocketLoss(t *testing.T) {
	t.Parallel()

	d := newMockDialer(resultResponder(`{}`))
	c := newTestConnection(t, d, testOptions())

	_, err := c.Request(context.Background(), "Test.method", nil)
	require.NoError(t, err)

	// Browser drops the socket
	require.NoError(t, d.conn(0).Close(1006, ""))

	require.Eventually(t, func() bool {
		return d.dialCount() == 2 && c.Status() == StatusConnected
	}, time.Second, time.Millisecond)

	h := c.Health()
	assert.Equal(t, 1, h.Reconnects)
	assert.Equal(t, 2, h.Connects)

	_, err = c.Request(context.Background(), "Test.method", nil)
	require.NoError(t, err)
	assert.Len(t, d.conn(1).getWritten(), 1)
}

func TestConnection_SendFailureReconnects(t *testing.T) {
	t.Parallel()

	d := newMockDialer(resultResponder(`{"ok":true}`))
	d.setup = func(i int, c *mockConn) {
		if i == 0 {
			c.writeErr = errors.New("broken pipe")
		}
	}
	c := newTestConnection(t, d, testOptions())

	result, err := c.Request(context.Background(), "Test.method", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
	assert.Equal(t, 2, d.dialCount())
	assert.True(t, d.conn(0).isClosed())
}

func TestConnection_SendFailureSurfacesWhenRetriesExhausted(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.RequestRetries = 0

	d := newMockDialer(resultResponder(`{}`))
	d.setup = func(i int, c *mockConn) {
		c.writeErr = errors.New("broken pipe")
	}
	c := newTestConnection(t, d, opts)

	_, err := c.Request(context.Background(), "Test.method", nil)
	require.ErrorIs(t, err, ErrSendFailed)
}

func TestConnection_PingFailuresTriggerReconnect(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.PingInterval = 10 * time.Millisecond
	opts.PingTimeout = 5 * time.Millisecond
	opts.RequestTimeout = 2 * time.Second

	d := newMockDialer(resultResponder(`{"ok":true}`))
	d.setup = func(i int, c *mockConn) {
		if i == 0 {
			// First socket is silently dead: no pongs, no responses
			c.pingBlock = true
			c.respond = silentResponder
		}
	}
	c := newTestConnection(t, d, opts)

	// The in-flight request survives the liveness-driven reconnect
	result, err := c.Request(context.Background(), "Test.method", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))

	assert.Equal(t, 2, d.dialCount())
	assert.True(t, d.conn(0).isClosed())

	d.conn(0).mu.Lock()
	pings := d.conn(0).pings
	d.conn(0).mu.Unlock()
	assert.GreaterOrEqual(t, pings, 2)

	require.Eventually(t, func() bool { return !c.Health().LastPong.IsZero() }, time.Second, time.Millisecond)
}

func TestConnection_ContextCancelStopsWaiting(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.RequestTimeout = 10 * time.Second

	d := newMockDialer(silentResponder)
	c := newTestConnection(t, d, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Request(ctx, "Test.method", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, d.conn(0).getWritten(), 1)
	assert.Zero(t, c.Health().Pending)
}

func TestNewConnection_ResolverErrors(t *testing.T) {
	t.Parallel()

	_, err := NewConnection(context.Background(), nil)
	require.Error(t, err)

	_, err = NewConnection(context.Background(), EndpointFunc(func(context.Context) (Endpoint, error) {
		return Endpoint{}, errors.New("no debugger address")
	}))
	require.ErrorContains(t, err, "no debugger address")

	_, err = NewConnection(context.Background(), EndpointFunc(func(context.Context) (Endpoint, error) {
		return Endpoint{}, nil
	}))
	require.ErrorContains(t, err, "no CDP endpoint available")
}

func TestStatus_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "closed", StatusClosed.String())
	assert.Equal(t, "unknown", Status(42).String())
}
