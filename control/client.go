// Package control implements the client side of the device control channel:
// dialing either transport variant, opening and closing CoLa 2 sessions,
// logging in and out, and exchanging commands for responses. All calls block
// and bound their I/O with the configured timeout.
package control

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/banshee-data/visionary/cola"
)

const (
	defaultTimeout  = 5 * time.Second
	defaultClientID = "visionary-go"

	// maxResponseSize bounds the declared payload length of a response
	// frame. Anything larger marks a desynchronized or hostile peer.
	maxResponseSize = 1 << 20
)

var (
	// ErrTimeout reports that the device did not answer a request within
	// the configured timeout. The connection may still be usable.
	ErrTimeout = errors.New("control: request timed out")

	// ErrSessionRejected reports that the device refused to open a CoLa 2
	// session.
	ErrSessionRejected = errors.New("control: session rejected")

	// ErrResponseMismatch reports a well-formed response that does not
	// answer the request that was sent: wrong request id, wrong telegram
	// type or wrong variable or method name.
	ErrResponseMismatch = errors.New("control: response does not match request")

	errClosed = errors.New("control: client is closed")
)

// Config parameterizes Open. The zero value is not usable; Addr is required.
type Config struct {
	// Addr is the device control endpoint as host or host:port. Without a
	// port the variant's conventional port is used (2112 for CoLa B, 2122
	// for CoLa 2).
	Addr string

	// Variant selects the transport framing; VariantB when zero.
	Variant cola.Variant

	// Timeout bounds dialing and each request/response exchange; 5s when
	// zero.
	Timeout time.Duration

	// SessionTimeoutSec is the idle timeout requested when opening a CoLa 2
	// session; 10 when zero. Ignored by variant B.
	SessionTimeoutSec uint8

	// ClientID identifies this client in the CoLa 2 session request;
	// "visionary-go" when empty. Ignored by variant B.
	ClientID string
}

// Client is a control-channel connection to one device. It is not safe for
// concurrent use; the protocol itself is strictly request/response.
type Client struct {
	conn  net.Conn
	cfg   Config
	level AccessLevel

	// CoLa 2 state. The session id is granted by the device on open; the
	// request id increments per request and is echo-checked.
	session uint32
	reqID   uint16
}

// Open dials the device and, for CoLa 2, opens a session.
func Open(cfg Config) (*Client, error) {
	if cfg.Variant == 0 {
		cfg.Variant = cola.VariantB
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ClientID == "" {
		cfg.ClientID = defaultClientID
	}
	if cfg.SessionTimeoutSec == 0 {
		cfg.SessionTimeoutSec = 10
	}
	addr, err := withDefaultPort(cfg.Addr, cfg.Variant.DefaultControlPort())
	if err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	conn, err := net.DialTimeout("tcp", addr, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("control: dial %s: %w", addr, err)
	}
	c := &Client{conn: conn, cfg: cfg}
	if cfg.Variant == cola.Variant2 {
		if err := c.openSession(); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return c, nil
}

// Close closes the CoLa 2 session, if any, and the connection. Safe to call
// more than once.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	if c.cfg.Variant == cola.Variant2 && c.session != 0 {
		// Best effort; the device drops idle sessions on its own.
		c.closeSession()
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// SendCommand performs one request/response exchange. Failures the device
// itself reports come back as a *cola.DeviceError; transport and framing
// failures wrap ErrTimeout, ErrResponseMismatch or cola.ErrMalformed.
func (c *Client) SendCommand(cmd cola.Command) (cola.Response, error) {
	if c.conn == nil {
		return cola.Response{}, errClosed
	}
	if c.cfg.Variant == cola.VariantB {
		frame, err := c.roundTrip(cola.EncodeB(cmd))
		if err != nil {
			return cola.Response{}, err
		}
		resp, err := cola.DecodeResponseB(frame)
		if err != nil {
			return cola.Response{}, err
		}
		return checkResponse(cmd, resp)
	}

	c.reqID++
	out := cola.EncodeTelegram2(cola.Telegram2{
		Session: c.session,
		Request: c.reqID,
		Body:    cola.AppendCommand2(nil, cmd),
	})
	frame, err := c.roundTrip(out)
	if err != nil {
		return cola.Response{}, err
	}
	tele, err := cola.DecodeTelegram2(frame)
	if err != nil {
		return cola.Response{}, err
	}
	if tele.Request != c.reqID {
		return cola.Response{}, fmt.Errorf("%w: reply carries request id %d, want %d",
			ErrResponseMismatch, tele.Request, c.reqID)
	}
	resp, err := cola.ParseResponse2(tele.Body)
	if err != nil {
		return cola.Response{}, err
	}
	return checkResponse(cmd, resp)
}

// checkResponse surfaces device errors and rejects replies that answer a
// different request than the one sent.
func checkResponse(cmd cola.Command, resp cola.Response) (cola.Response, error) {
	if err := resp.Err(); err != nil {
		return resp, fmt.Errorf("control: %s %q: %w", cmd.Type, cmd.Name, err)
	}
	if resp.Type != cmd.Type.ResponseType() || resp.Name != cmd.Name {
		return resp, fmt.Errorf("%w: got %s %q in reply to %s %q",
			ErrResponseMismatch, resp.Type, resp.Name, cmd.Type, cmd.Name)
	}
	return resp, nil
}

// roundTrip writes one frame and reads one frame, both bounded by the
// configured timeout.
func (c *Client) roundTrip(out []byte) ([]byte, error) {
	if err := c.conn.SetDeadline(time.Now().Add(c.cfg.Timeout)); err != nil {
		return nil, err
	}
	if _, err := c.conn.Write(out); err != nil {
		return nil, classify(err)
	}
	frame, err := c.readFrame()
	if err != nil {
		return nil, classify(err)
	}
	return frame, nil
}

// readFrame reads one complete frame, header, payload and, for variant B,
// the checksum byte.
func (c *Client) readFrame() ([]byte, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(c.conn, hdr[:]); err != nil {
		return nil, err
	}
	if !bytes.Equal(hdr[:4], cola.FrameMagic[:]) {
		return nil, fmt.Errorf("%w: bad frame magic % x", cola.ErrMalformed, hdr[:4])
	}
	n := int(binary.BigEndian.Uint32(hdr[4:8]))
	if n > maxResponseSize {
		return nil, fmt.Errorf("%w: implausible response length %d", cola.ErrMalformed, n)
	}
	trailer := 0
	if c.cfg.Variant == cola.VariantB {
		trailer = 1
	}
	frame := make([]byte, len(hdr)+n+trailer)
	copy(frame, hdr[:])
	if _, err := io.ReadFull(c.conn, frame[len(hdr):]); err != nil {
		return nil, err
	}
	return frame, nil
}

// classify turns deadline expirations into ErrTimeout and leaves other
// transport failures alone.
func classify(err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// openSession performs the CoLa 2 "Ox"/"OA" handshake. The granted session
// id arrives in the reply's telegram header.
func (c *Client) openSession() error {
	c.reqID++
	body := append([]byte(cola.SessionOpen), c.cfg.SessionTimeoutSec)
	body = binary.BigEndian.AppendUint16(body, uint16(len(c.cfg.ClientID)))
	body = append(body, c.cfg.ClientID...)
	out := cola.EncodeTelegram2(cola.Telegram2{Session: 0, Request: c.reqID, Body: body})

	frame, err := c.roundTrip(out)
	if err != nil {
		return fmt.Errorf("control: open session: %w", err)
	}
	tele, err := cola.DecodeTelegram2(frame)
	if err != nil {
		return fmt.Errorf("control: open session: %w", err)
	}
	if tele.Request != c.reqID {
		return fmt.Errorf("%w: session reply carries request id %d, want %d",
			ErrResponseMismatch, tele.Request, c.reqID)
	}
	if !bytes.HasPrefix(tele.Body, []byte(cola.SessionOpenReply)) || tele.Session == 0 {
		return fmt.Errorf("%w: device answered % x", ErrSessionRejected, tele.Body)
	}
	c.session = tele.Session
	return nil
}

// closeSession performs the "Cx"/"CA" handshake.
func (c *Client) closeSession() error {
	c.reqID++
	out := cola.EncodeTelegram2(cola.Telegram2{
		Session: c.session,
		Request: c.reqID,
		Body:    []byte(cola.SessionClose),
	})
	frame, err := c.roundTrip(out)
	if err != nil {
		return err
	}
	tele, err := cola.DecodeTelegram2(frame)
	if err != nil {
		return err
	}
	if !bytes.HasPrefix(tele.Body, []byte(cola.SessionCloseReply)) {
		return fmt.Errorf("%w: close reply % x", ErrResponseMismatch, tele.Body)
	}
	c.session = 0
	return nil
}

// withDefaultPort fills in the conventional port when addr carries none.
func withDefaultPort(addr string, port int) (string, error) {
	if addr == "" {
		return "", errors.New("no device address")
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr, nil
	}
	return net.JoinHostPort(addr, fmt.Sprint(port)), nil
}
