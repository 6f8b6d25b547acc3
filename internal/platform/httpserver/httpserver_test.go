package httpserver

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSetsBlockingFriendlyTimeouts(t *testing.T) {
	srv := New(":8080", http.NewServeMux())
	require.NotNil(t, srv)

	assert.Equal(t, ":8080", srv.Addr)
	assert.Equal(t, readHeaderTimeout, srv.ReadHeaderTimeout)
	// Long-running run requests must outlive a paced extraction fan-out.
	assert.Greater(t, srv.WriteTimeout, srv.ReadTimeout)
	assert.NotZero(t, srv.IdleTimeout)
}
