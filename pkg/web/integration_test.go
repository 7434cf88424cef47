//go:build integration

package web_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/persistence/postgresql"
	"github.com/novu-co/novu-sub003/pkg/services"
	"github.com/novu-co/novu-sub003/pkg/testutil"
	"github.com/novu-co/novu-sub003/pkg/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "novu_test",
				"POSTGRES_USER":     "novu",
				"POSTGRES_PASSWORD": "novu",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	// The log line can precede the listener by a moment.
	time.Sleep(2 * time.Second)

	return fmt.Sprintf("postgres://novu:novu@%s:%s/novu_test?sslmode=disable", host, port.Port())
}

func TestAPI_Postgres_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	dbURL := setupTestDB(t)

	p, err := postgresql.NewPersistence(context.Background(), slog.Default(), dbURL)
	require.NoError(t, err)

	t.Cleanup(func() { _ = p.Close(context.Background()) })

	a := newTestApp(t, p)

	t.Run("save and trigger workflow", func(t *testing.T) {
		resp, body := a.do(t, http.MethodPost, "/v1/workflows", web.SaveWorkflowRequest{
			Identifier: "welcome",
			Name:       "Welcome",
			Active:     true,
			Steps:      []*models.Step{testutil.CreateTestStep(models.StepTypeEmail)},
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

		var saved services.SaveWorkflowResponse
		require.NoError(t, json.Unmarshal(body, &saved))
		assert.NotEmpty(t, saved.Workflow.ID)

		resp, body = a.do(t, http.MethodPost, "/v1/events/trigger", map[string]any{"name": "welcome", "to": "sub-1"})
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

		var response models.TriggerResponse
		require.NoError(t, json.Unmarshal(body, &response))
		assert.Equal(t, models.TriggerStatusProcessed, response.Status)
	})

	t.Run("identify subscriber", func(t *testing.T) {
		resp, body := a.do(t, http.MethodPut, "/v1/subscribers/sub-1", map[string]any{"firstName": "Ada"})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		resp, body = a.do(t, http.MethodPut, "/v1/subscribers/sub-1", map[string]any{"email": "ada@example.com"})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		var sub models.Subscriber
		require.NoError(t, json.Unmarshal(body, &sub))
		assert.Equal(t, "Ada", sub.FirstName)
		assert.Equal(t, "ada@example.com", sub.Email)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		resp, _ := a.do(t, http.MethodGet, "/v1/activity/missing", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
