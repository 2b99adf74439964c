package proxy

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/fwdcache/fwdcache-srv/logger"
	"github.com/codefionn/fwdcache/fwdcache-srv/stats"
)

// flushInterval is how many bytes may pass in either direction before a
// long-lived connection reports its transfer counters.
const flushInterval = 10240

// trackedConn is a wrapper around net.Conn that reports byte counts to the
// statistics collector. The connection end is recorded once, on Close.
type trackedConn struct {
	net.Conn
	ctx          context.Context
	collector    stats.Collector
	connectionID int64
	startTime    time.Time

	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
	flushSent     atomic.Int64
	flushReceived atomic.Int64
	flushMu       sync.Mutex

	closeReason atomic.Value // string
	endOnce     sync.Once
}

func newTrackedConn(ctx context.Context, conn net.Conn, collector stats.Collector, connectionID int64) *trackedConn {
	return &trackedConn{
		Conn:         conn,
		ctx:          ctx,
		collector:    collector,
		connectionID: connectionID,
		startTime:    time.Now(),
	}
}

// Read reads data from the connection, tracking the number of bytes received.
func (c *trackedConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		received := c.bytesReceived.Add(int64(n))
		if received-c.flushReceived.Load() >= flushInterval {
			c.flush()
		}
	}
	return n, err
}

// Write writes data to the connection, tracking the number of bytes sent.
func (c *trackedConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 {
		sent := c.bytesSent.Add(int64(n))
		if sent-c.flushSent.Load() >= flushInterval {
			c.flush()
		}
	}
	return n, err
}

// flush reports the deltas since the previous flush.
func (c *trackedConn) flush() {
	c.flushMu.Lock()
	sent := c.bytesSent.Load()
	received := c.bytesReceived.Load()
	deltaSent := sent - c.flushSent.Swap(sent)
	deltaReceived := received - c.flushReceived.Swap(received)
	c.flushMu.Unlock()

	if deltaSent <= 0 && deltaReceived <= 0 {
		return
	}
	if c.connectionID <= 0 {
		return
	}
	if err := c.collector.RecordDataTransfer(c.ctx, c.connectionID, deltaSent, deltaReceived); err != nil {
		logger.Debug("Failed to record data transfer: %v", err)
	}
}

// SetCloseReason sets the reason recorded when the connection closes.
func (c *trackedConn) SetCloseReason(reason string) {
	c.closeReason.Store(reason)
}

// BytesSent returns the bytes written so far.
func (c *trackedConn) BytesSent() int64 { return c.bytesSent.Load() }

// BytesReceived returns the bytes read so far.
func (c *trackedConn) BytesReceived() int64 { return c.bytesReceived.Load() }

// Close closes the connection and records the final statistics.
func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.endOnce.Do(func() {
		reason, _ := c.closeReason.Load().(string)
		if reason == "" {
			reason = "normal"
		}
		if err != nil && !isClosedConnError(err) {
			reason = err.Error()
		}
		c.flush()
		if c.connectionID <= 0 {
			return
		}
		if endErr := c.collector.EndConnection(c.ctx, c.connectionID,
			c.bytesSent.Load(), c.bytesReceived.Load(), time.Since(c.startTime), reason); endErr != nil {
			logger.Debug("Failed to end connection: %v", endErr)
		}
	})
	return err
}
