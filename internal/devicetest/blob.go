package devicetest

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/visionary/stream"
)

// BlobServer emulates the device end of the streaming channel. Tests decide
// when frames go out, so clients can be exercised against slow, bursty, or
// abruptly closed streams.
type BlobServer struct {
	t  *testing.T
	ln net.Listener

	mu    sync.Mutex
	conn  net.Conn
	conns chan net.Conn
}

// StartBlob listens on a loopback port and accepts stream clients until the
// test ends.
func StartBlob(t *testing.T) *BlobServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("devicetest: listen: %v", err)
	}
	s := &BlobServer{t: t, ln: ln, conns: make(chan net.Conn, 4)}
	go s.serve()
	t.Cleanup(func() {
		ln.Close()
		s.CloseClient()
	})
	return s
}

// Addr returns the host:port the emulator listens on.
func (s *BlobServer) Addr() string {
	return s.ln.Addr().String()
}

func (s *BlobServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.conns <- conn
	}
}

// client returns the connected stream client, waiting briefly for one to
// arrive.
func (s *BlobServer) client() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn
	}
	select {
	case conn := <-s.conns:
		s.conn = conn
		return conn
	case <-time.After(5 * time.Second):
		s.t.Fatalf("devicetest: no stream client connected")
		return nil
	}
}

// Send encodes a frame and writes it to the connected client.
func (s *BlobServer) Send(f *stream.Frame) {
	s.SendRaw(stream.EncodeFrame(f))
}

// SendRaw writes arbitrary bytes to the connected client.
func (s *BlobServer) SendRaw(p []byte) {
	conn := s.client()
	if _, err := conn.Write(p); err != nil {
		s.t.Fatalf("devicetest: write stream bytes: %v", err)
	}
}

// SendChunked writes p in chunks of at most n bytes with a pause between
// them, exercising client reassembly across short reads.
func (s *BlobServer) SendChunked(p []byte, n int, delay time.Duration) {
	conn := s.client()
	for off := 0; off < len(p); off += n {
		end := min(off+n, len(p))
		if _, err := conn.Write(p[off:end]); err != nil {
			s.t.Fatalf("devicetest: write stream chunk: %v", err)
		}
		if delay > 0 {
			time.Sleep(delay)
		}
	}
}

// CloseClient drops the current client connection, simulating a device
// going away mid-stream.
func (s *BlobServer) CloseClient() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
