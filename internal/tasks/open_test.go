package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"infraflow/task-portal/task-portal-backend/internal/config"
)

func TestOpenMemory(t *testing.T) {
	repo, closeFn, err := Open(config.DatabaseConfig{Driver: "memory"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryRepository{}, repo)
	assert.NoError(t, closeFn())
}
