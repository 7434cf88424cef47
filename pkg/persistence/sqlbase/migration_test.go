package sqlbase

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrationManager_LatestVersion(t *testing.T) {
	manager := NewMigrationManager(slog.Default(), nil, map[int]string{1: "SELECT 1", 3: "SELECT 3", 2: "SELECT 2"})
	assert.Equal(t, 3, manager.LatestVersion())

	empty := NewMigrationManager(slog.Default(), nil, map[int]string{})
	assert.Equal(t, 0, empty.LatestVersion())
}
