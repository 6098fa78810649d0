package operation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/llmgateway/core/pkg/storage"
)

func TestValidIDAcceptsGeneratedIDs(t *testing.T) {
	m := NewManager(storage.NewMemory[Operation]())
	op, err := m.CreatePending(context.Background(), "workflow_run", nil)
	require.NoError(t, err)
	require.True(t, ValidID(op.ID))
}

func TestValidIDGrammar(t *testing.T) {
	require.True(t, ValidID("op-00000000-0000-0000-0000-000000000000"))
	require.True(t, ValidID("op-a1b2c3d4-e5f6-7890-abcd-ef0123456789"))

	require.False(t, ValidID(""))
	require.False(t, ValidID("a1b2c3d4-e5f6-7890-abcd-ef0123456789"), "missing op- prefix")
	require.False(t, ValidID("op-"), "prefix alone")
	require.False(t, ValidID("op-not-a-uuid"))
	require.False(t, ValidID("op-A1B2C3D4-E5F6-7890-ABCD-EF0123456789"), "uppercase hex is not canonical")
	require.False(t, ValidID("op-00000000-0000-0000-0000-00000000000"), "truncated uuid")
	require.False(t, ValidID("xop-00000000-0000-0000-0000-000000000000"))
}
