package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRoster(t *testing.T) {
	items := []interface{}{
		map[string]interface{}{"id": "bn-1", "name": "libimp.so (T31 v1.1.6)", "architecture": "mips32", "base_address": 4194304.0},
		map[string]interface{}{"binary_id": 9012.0, "title": "libimp.so (T23)", "arch": "armv7", "base_address": "0x10000"},
		map[string]interface{}{"server_id": "srv", "base_address": nil},
		map[string]interface{}{"name": "tx-isp-t23.ko"},
		map[string]interface{}{"architecture": "x86"},
		"plain-id",
	}

	targets, err := DecodeRoster(items)
	require.NoError(t, err)
	require.Len(t, targets, 5)

	assert.Equal(t, Target{
		LogicalID: "bn-1", ResolvedID: "bn-1", DisplayName: "libimp.so (T31 v1.1.6)",
		Architecture: "mips32", BaseAddress: 0x400000,
	}, targets[0])

	assert.Equal(t, "9012", targets[1].ResolvedID)
	assert.Equal(t, "libimp.so (T23)", targets[1].DisplayName)
	assert.Equal(t, "armv7", targets[1].Architecture)
	assert.Equal(t, uint64(0x10000), targets[1].BaseAddress)

	assert.Equal(t, "srv", targets[2].DisplayName)
	assert.Equal(t, DefaultArchitecture, targets[2].Architecture)

	assert.Equal(t, "tx-isp-t23.ko", targets[3].ResolvedID)
	assert.Equal(t, "plain-id", targets[4].ResolvedID)
}

func TestDecodeRoster_BadEntriesSkipped(t *testing.T) {
	items := []interface{}{
		map[string]interface{}{"id": "ok"},
		map[string]interface{}{"id": "bad", "base_address": "zzz"},
		42.0,
	}

	targets, err := DecodeRoster(items)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "roster entry 1")

	require.Len(t, targets, 1)
	assert.Equal(t, "ok", targets[0].ResolvedID)
}
