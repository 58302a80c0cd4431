package main

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServe_ListenFailureStillStopsScheduler(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	var stops atomic.Int32
	srv := &http.Server{Addr: taken.Addr().String(), Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() {
		done <- serve(context.Background(), srv, func() { stops.Add(1) }, zerolog.Nop())
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after the listener failed")
	}
	assert.Equal(t, int32(1), stops.Load())
}

func TestServe_ContextCancelShutsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var stops atomic.Int32
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, srv, func() { stops.Add(1) }, zerolog.Nop())
	}()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
	assert.Equal(t, int32(1), stops.Load())
}
