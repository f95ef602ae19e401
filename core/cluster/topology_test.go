package cluster

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	e, err := ParseEndpoint("10.0.0.1:8888")
	require.NoError(t, err)
	require.Equal(t, Endpoint{Host: "10.0.0.1", Port: 8888}, e)
	require.Equal(t, "10.0.0.1:8888", e.String())

	e, err = ParseEndpoint("[::1]:6379")
	require.NoError(t, err)
	require.Equal(t, "::1", e.Host)
	require.Equal(t, "[::1]:6379", e.String())

	for _, bad := range []string{"nohost", "h:0", "h:x", ":6379", "h:65536"} {
		_, err := ParseEndpoint(bad)
		require.ErrorIs(t, err, ErrInvalidTopology, bad)
	}
}

func TestTopology_Validate(t *testing.T) {
	require.NoError(t, Topo([]int{1, 2}, []int{3}).Validate())
	require.ErrorIs(t, Topology{}.Validate(), ErrInvalidTopology)
	require.ErrorIs(t, Topology{{{Host: "", Port: 1}}}.Validate(), ErrInvalidTopology)
	require.Equal(t, 2, Topo([]int{1}, []int{2}).NumRegions())
}

func TestReply(t *testing.T) {
	require.NoError(t, OK("x").Err())

	err := Failed("client_error", "bad").Err()
	var ae *ApplicationError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, "cluster: application error: client_error bad", err.Error())
	require.False(t, IsNotFound(err))
	require.True(t, IsNotFound(Failed("not_found").Err()))
}
