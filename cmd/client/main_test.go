package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/erain9/bazaarbook/pkg/backend/memory"
	"github.com/erain9/bazaarbook/pkg/core"
	"github.com/erain9/bazaarbook/pkg/messaging"
	"github.com/erain9/bazaarbook/pkg/server"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *server.OrderBookService) {
	t.Helper()
	svc := server.NewOrderBookService(server.NewOrderBookManager(), memory.NewMemoryBackend(),
		messaging.NewMockMessageSender(), nil)
	srv := httptest.NewServer(server.NewHandler(svc, nil))
	t.Cleanup(srv.Close)
	return srv, svc
}

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestRun_AddBookRemove(t *testing.T) {
	srv, svc := newTestServer(t)
	ctx := context.Background()
	ts := time.Now().UTC().Add(-time.Minute).Format(time.RFC3339Nano)

	require.NoError(t, run(ctx, []string{"-addr", srv.URL, "add", "-item", "X", "-side", "sell",
		"-price", "12.5", "-amount", "3", "-user", "u1", "-ts", ts}, &bytes.Buffer{}))
	require.NoError(t, run(ctx, []string{"-addr", srv.URL, "add", "-item", "X", "-side", "buy",
		"-price", "10"}, &bytes.Buffer{}))

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"-addr", srv.URL, "book", "X"}, &out))
	assert.Contains(t, out.String(), "12.5")
	assert.Contains(t, out.String(), "u1")
	assert.Contains(t, out.String(), "ASK")
	assert.Contains(t, out.String(), "BID")

	require.NoError(t, run(ctx, []string{"-addr", srv.URL, "remove", "-item", "X", "-user", "u1", "-ts", ts}, &bytes.Buffer{}))
	book := svc.GetOrderBook("X")
	assert.Empty(t, book.Sell)
	assert.Len(t, book.Buy, 1)
}

func TestRun_BatchAndUpdate(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "update.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"itemTag":"Y","timestamp":"2020-01-01T00:00:00Z","sellOrders":[{"pricePerUnit":3,"amount":2}]}`), 0o644))

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"-addr", srv.URL, "update", path}, &out))
	assert.Contains(t, out.String(), "update applied")

	out.Reset()
	require.NoError(t, run(ctx, []string{"-addr", srv.URL, "batch", "Y", "Z"}, &out))
	assert.Contains(t, out.String(), "Y")
	assert.Contains(t, out.String(), "Z")
	assert.Contains(t, out.String(), "3.0")
}

func TestRun_Usage(t *testing.T) {
	ctx := context.Background()
	for _, args := range [][]string{
		nil,
		{"frobnicate"},
		{"book"},
		{"add", "-price", "1"},
		{"add", "-item", "X", "-side", "up"},
		{"remove", "-item", "X"},
	} {
		err := run(ctx, args, &bytes.Buffer{})
		assert.ErrorIs(t, err, errUsage, "%v", args)
	}
}

func TestRun_ServerError(t *testing.T) {
	srv, _ := newTestServer(t)
	err := run(context.Background(), []string{"-addr", srv.URL, "remove", "-item", "X", "-user", "u", "-ts", "nope"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

type fakePublisher struct {
	published []*core.BazaarPull
	closed    bool
	err       error
}

func (f *fakePublisher) Publish(pull *core.BazaarPull) error {
	f.published = append(f.published, pull)
	return f.err
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func TestRun_Publish(t *testing.T) {
	fake := &fakePublisher{}
	var gotBrokers []string
	orig := newPublisher
	newPublisher = func(brokers []string, topic string) (publisher, error) {
		gotBrokers = brokers
		return fake, nil
	}
	defer func() { newPublisher = orig }()

	path := filepath.Join(t.TempDir(), "pull.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"products":[{"productId":"X","buySummary":[{"amount":1,"pricePerUnit":2}]}]}`), 0o644))

	require.NoError(t, run(context.Background(), []string{"publish", "-brokers", "a:1,b:2", path}, &bytes.Buffer{}))
	assert.Equal(t, []string{"a:1", "b:2"}, gotBrokers)
	require.Len(t, fake.published, 1)
	assert.False(t, fake.published[0].Timestamp.IsZero())
	assert.True(t, fake.closed)

	fake.err = errors.New("broker down")
	assert.Error(t, run(context.Background(), []string{"publish", path}, &bytes.Buffer{}))
}
