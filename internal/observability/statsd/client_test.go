package statsd

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQualifyNormalizesMetricNames(t *testing.T) {
	t.Parallel()

	c := &Client{prefix: "catalogd"}
	tests := map[string]string{
		" jobs/completed ":  "catalogd.jobs_completed",
		"heartbeat..purged": "catalogd.heartbeat.purged",
		"multi  space":      "catalogd.multi__space",
		".pipeline.fanout.": "catalogd.pipeline.fanout",
		"   ":               "",
	}
	for input, want := range tests {
		assert.Equal(t, want, c.qualify(input), "qualify(%q)", input)
	}

	bare := &Client{}
	assert.Equal(t, "jobs.reserved", bare.qualify("jobs.reserved"))
}

func TestTagSuffixMergesAndSorts(t *testing.T) {
	t.Parallel()

	global := map[string]string{"env": "prod", "service": "catalogd"}
	local := map[string]string{
		"job_type": " hydrate-listing ",
		"":         "ignored",
		"env":      "stage", // per-call tags win
	}

	got := tagSuffix(global, local)
	assert.Equal(t, "|#env:stage,job_type:hydrate-listing,service:catalogd", got)

	assert.Empty(t, tagSuffix(nil, nil))
	assert.Empty(t, tagSuffix(map[string]string{"": "x"}, nil))
}

func TestTrimTagsReturnsIndependentCopy(t *testing.T) {
	t.Parallel()

	original := map[string]string{" env ": " prod ", "": "dropped"}
	trimmed := trimTags(original)

	require.NotNil(t, trimmed)
	assert.Equal(t, map[string]string{"env": "prod"}, trimmed)

	trimmed["env"] = "stage"
	assert.Equal(t, " prod ", original[" env "], "input map must not be mutated")
}

func TestClientEmitsOverUDP(t *testing.T) {
	t.Parallel()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	client, err := NewClient(Config{
		Enabled:    true,
		Address:    pc.LocalAddr().String(),
		Prefix:     "catalogd",
		GlobalTags: map[string]string{"env": "test"},
	})
	require.NoError(t, err)
	defer client.Close()
	require.True(t, client.Enabled())

	read := func() string {
		t.Helper()
		require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
		buf := make([]byte, 512)
		n, _, readErr := pc.ReadFrom(buf)
		require.NoError(t, readErr)
		return string(buf[:n])
	}

	client.Count("heartbeat.purged", 3, map[string]string{"seller_ref": "seller-a"})
	assert.Equal(t, "catalogd.heartbeat.purged:3|c|#env:test,seller_ref:seller-a", read())

	client.Gauge("jobs.queue_depth", 12.5, nil)
	assert.Equal(t, "catalogd.jobs.queue_depth:12.5|g|#env:test", read())

	client.Timing("heartbeat.cycle_duration", 1500*time.Millisecond, nil)
	assert.Equal(t, "catalogd.heartbeat.cycle_duration:1500|ms|#env:test", read())
}

func TestClientCloseDisablesEmission(t *testing.T) {
	t.Parallel()

	clientConn, peerConn := net.Pipe()
	defer peerConn.Close()

	client := &Client{enabled: true, conn: clientConn}
	require.True(t, client.Enabled())

	require.NoError(t, client.Close())
	assert.False(t, client.Enabled())
	require.NoError(t, client.Close(), "Close is idempotent")

	var nilClient *Client
	assert.False(t, nilClient.Enabled())
	assert.NoError(t, nilClient.Close())
	nilClient.Count("jobs.completed", 1, nil) // must not panic
}

func TestNewClientDisabledWithoutAddress(t *testing.T) {
	t.Parallel()

	client, err := NewClient(Config{Enabled: true, Address: "   "})
	require.NoError(t, err)
	assert.False(t, client.Enabled())

	// Emission on a disabled client is a silent no-op.
	client.Count("jobs.completed", 1, nil)
}

func TestNewClientDialError(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{Enabled: true, Address: "bad address"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statsd dial")
}
