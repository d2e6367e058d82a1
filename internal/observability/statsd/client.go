// Package statsd emits catalog pipeline metrics over the StatsD UDP line
// protocol, with DogStatsD-style tags.
package statsd

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sink is the metric surface the pipeline, heartbeat, and reaper services
// emit through. A nil sink is a valid no-op.
type Sink interface {
	Count(name string, value int64, tags map[string]string)
	Gauge(name string, value float64, tags map[string]string)
	Timing(name string, value time.Duration, tags map[string]string)
}

// Config describes the StatsD endpoint. GlobalTags (service name, seller
// shard, environment) are appended to every metric line.
type Config struct {
	Enabled    bool
	Address    string
	Prefix     string
	Logger     *slog.Logger
	GlobalTags map[string]string
}

// Client emits metrics over UDP. Safe for concurrent use; every service in
// the process shares one client.
type Client struct {
	enabled    bool
	address    string
	prefix     string
	globalTags map[string]string

	logger *slog.Logger
	conn   net.Conn
	mu     sync.Mutex
}

var _ Sink = (*Client)(nil)

// NewClient dials the configured endpoint unless metrics are disabled. A
// disabled client is still usable; every emit is a no-op.
func NewClient(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	address := strings.TrimSpace(cfg.Address)
	client := &Client{
		enabled:    cfg.Enabled && address != "",
		address:    address,
		prefix:     strings.Trim(strings.TrimSpace(cfg.Prefix), "."),
		globalTags: trimTags(cfg.GlobalTags),
		logger:     logger,
	}
	if !client.enabled {
		return client, nil
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := (&net.Dialer{}).DialContext(dialCtx, "udp", address)
	if err != nil {
		return nil, fmt.Errorf("statsd dial %s: %w", address, err)
	}
	client.conn = conn
	return client, nil
}

// Enabled reports whether the client actively emits metrics.
func (c *Client) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled && c.conn != nil
}

// Count increments a counter, e.g. jobs.completed or heartbeat.purged.
func (c *Client) Count(name string, value int64, tags map[string]string) {
	if c == nil {
		return
	}
	c.emit(name, strconv.FormatInt(value, 10)+"|c", tags)
}

// Gauge records a point-in-time value, e.g. queue depth.
func (c *Client) Gauge(name string, value float64, tags map[string]string) {
	if c == nil {
		return
	}
	c.emit(name, formatFloat(value)+"|g", tags)
}

// Timing records a duration in milliseconds.
func (c *Client) Timing(name string, value time.Duration, tags map[string]string) {
	if c == nil {
		return
	}
	c.emit(name, formatFloat(float64(value)/float64(time.Millisecond))+"|ms", tags)
}

// Close releases the UDP connection and disables further emission.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = false
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) emit(name, payload string, tags map[string]string) {
	metric := c.qualify(name)
	if metric == "" {
		return
	}
	line := metric + ":" + payload + tagSuffix(c.globalTags, tags)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled || c.conn == nil {
		return
	}
	if _, err := c.conn.Write([]byte(line)); err != nil {
		// UDP metrics are fire-and-forget; a lost line is not worth more
		// than a debug log.
		c.logger.Debug("statsd write failed", "error", err)
	}
}

// qualify prefixes and normalizes a metric name. Spaces and slashes become
// underscores; empty names are dropped.
func (c *Client) qualify(name string) string {
	normalized := strings.Trim(strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/':
			return '_'
		default:
			return r
		}
	}, strings.TrimSpace(name)), ".")
	for strings.Contains(normalized, "..") {
		normalized = strings.ReplaceAll(normalized, "..", ".")
	}

	switch {
	case normalized == "":
		return ""
	case c.prefix == "":
		return normalized
	default:
		return c.prefix + "." + normalized
	}
}

// tagSuffix renders the merged global and per-call tags in the DogStatsD
// "|#k:v,k:v" form, keys sorted so lines are stable for tests and dedupe.
func tagSuffix(global, local map[string]string) string {
	if len(global) == 0 && len(local) == 0 {
		return ""
	}

	merged := make(map[string]string, len(global)+len(local))
	maps.Copy(merged, global)
	maps.Copy(merged, trimTags(local))
	if len(merged) == 0 {
		return ""
	}

	pairs := make([]string, 0, len(merged))
	for _, key := range slices.Sorted(maps.Keys(merged)) {
		pairs = append(pairs, key+":"+merged[key])
	}
	return "|#" + strings.Join(pairs, ",")
}

func trimTags(tags map[string]string) map[string]string {
	trimmed := make(map[string]string, len(tags))
	for k, v := range tags {
		if key := strings.TrimSpace(k); key != "" {
			trimmed[key] = strings.TrimSpace(v)
		}
	}
	return trimmed
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
