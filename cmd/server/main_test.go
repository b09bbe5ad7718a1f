package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/erain9/bazaarbook/config"
	"github.com/erain9/bazaarbook/pkg/backend/pebble"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewApp_Memory(t *testing.T) {
	cfg := config.Default()
	a, err := newApp(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/orderbook", "application/json",
		strings.NewReader(`{"itemId":"X","isSell":true,"userId":"u1","playerName":"p","pricePerUnit":5,"amount":1,"timestamp":"2024-01-01T00:00:00Z"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Len(t, a.service.GetOrderBook("X").Sell, 1)
}

func TestNewApp_Pebble(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = config.StoragePebble
	cfg.Storage.PebbleDir = t.TempDir()

	a, err := newApp(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, a.closers, 1)
	_, ok := a.closers[0].(*pebble.PebbleBackend)
	assert.True(t, ok)
	a.Close()
	assert.Empty(t, a.closers)
}

func TestNewApp_KafkaWithoutBrokers(t *testing.T) {
	cfg := config.Default()
	cfg.Kafka.Enabled = true
	cfg.Kafka.Brokers = nil

	_, err := newApp(cfg, zerolog.Nop())
	assert.Error(t, err)
}
