package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/novu-co/novu-sub003/pkg/cmd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusApp(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	runtime, err := cmd.NewRuntime(t.Context(), cmd.Options{
		ServiceName: "novu-worker-test",
		DatabaseURL: "file://" + t.TempDir(),
		Queue:       cmd.QueueConfig{Provider: cmd.QueueMemory},
	}, logger)
	require.NoError(t, err)

	t.Cleanup(func() { _ = runtime.Close(context.Background()) })

	app := newStatusApp(runtime)

	for _, path := range []string{"/livez", "/readyz", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
			require.NoError(t, err)

			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, http.StatusOK, resp.StatusCode)
		})
	}
}
