package columnstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultKeyspaceDurableWrites(t *testing.T) {
	single := DefaultKeyspace("distfs", 1, map[string]string{"dc1": "1"})
	require.False(t, single.DurableWrites, "a single replica has nothing to recover a lost write from")

	replicated := DefaultKeyspace("distfs", 3, map[string]string{"dc1": "3"})
	require.True(t, replicated.DurableWrites, "durable writes must be set once the keyspace actually replicates")
}
