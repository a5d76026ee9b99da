package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerExposesMetrics(t *testing.T) {
	NetlogMessagesTotal.WithLabelValues("call").Inc()

	s := NewServer("127.0.0.1:0", "")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	resp, err := http.Get("http://" + s.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `sandtrace_netlog_messages_total{kind="call"}`)
}

func TestStopBeforeStart(t *testing.T) {
	assert.NoError(t, NewServer(":0", "/m").Stop(context.Background()))
}
