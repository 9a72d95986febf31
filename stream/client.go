package stream

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// DefaultDataPort is the TCP port devices conventionally serve the data
// channel on.
const DefaultDataPort = 2114

const (
	defaultDialTimeout = 5 * time.Second
	readChunkSize      = 64 << 10
)

var (
	// ErrTimeout reports that no complete frame arrived within the pull
	// timeout. The connection stays usable; the next pull continues where
	// this one left off.
	ErrTimeout = errors.New("stream: timed out waiting for a frame")
	// ErrConnectionLost reports that the data channel failed or was closed
	// and no further frames will arrive on it.
	ErrConnectionLost = errors.New("stream: connection lost")
)

// Client pulls frames from a device's data channel over a single TCP
// connection. It is synchronous: one goroutine opens it, pulls frames and
// closes it. The only concurrent use supported is Close, which unblocks a
// pending pull with ErrConnectionLost.
type Client struct {
	conn net.Conn
	dec  *Decoder
	buf  []byte
}

// Open connects to a device's data channel. addr may omit the port, in
// which case DefaultDataPort is used. timeout bounds the connection
// attempt; zero selects a 5 second default.
func Open(addr string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	conn, err := net.DialTimeout("tcp", withDefaultPort(addr, DefaultDataPort), timeout)
	if err != nil {
		return nil, fmt.Errorf("stream: dial: %w", err)
	}
	return &Client{
		conn: conn,
		dec:  NewDecoder(),
		buf:  make([]byte, readChunkSize),
	}, nil
}

// Close shuts the data channel down.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Dropped reports how many malformed frames have been skipped since Open.
func (c *Client) Dropped() uint64 {
	return c.dec.Dropped()
}

// GetNextFrame blocks until a complete frame arrives, the timeout elapses
// (ErrTimeout) or the connection fails (ErrConnectionLost). The returned
// frame and its maps are overwritten by the next pull; Clone what you keep.
func (c *Client) GetNextFrame(timeout time.Duration) (*Frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		if f, ok := c.dec.Next(); ok {
			return f, nil
		}
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		n, err := c.conn.Read(c.buf)
		if n > 0 {
			c.dec.Write(c.buf[:n])
		}
		if err != nil {
			// The read may have completed a buffered frame before failing.
			if f, ok := c.dec.Next(); ok {
				return f, nil
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return nil, ErrTimeout
			}
			return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
	}
}

func withDefaultPort(addr string, port int) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(port))
}
