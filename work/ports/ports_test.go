package ports

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocatePort(t *testing.T) {
	port, err := AllocatePort(nil)
	require.NoError(t, err)
	require.Greater(t, port, 0)

	// the port must be bindable right after allocation
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	l.Close()
}

func TestAllocatePortAvoidsForbidden(t *testing.T) {
	forbidden := make(map[int]struct{})
	for i := 0; i < 8; i++ {
		p, err := bindEphemeral()
		require.NoError(t, err)
		forbidden[p] = struct{}{}
	}
	for i := 0; i < 8; i++ {
		port, err := AllocatePort(forbidden)
		require.NoError(t, err)
		assert.NotContains(t, forbidden, port)
	}
}

func TestAllocatedPortsDistinctUnderContention(t *testing.T) {
	seen := make(map[int]struct{})
	forbidden := make(map[int]struct{})
	for i := 0; i < 4; i++ {
		port, err := AllocatePort(forbidden)
		require.NoError(t, err)
		_, dup := seen[port]
		assert.False(t, dup, "port %d allocated twice", port)
		seen[port] = struct{}{}
		forbidden[port] = struct{}{}
	}
}
