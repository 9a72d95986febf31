package devicetest

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/visionary/cola"
)

// MethodFunc implements a device method for the emulator. It receives the
// invocation parameters and returns the result bytes and an error code,
// CodeOK for success.
type MethodFunc func(params *cola.Reader) ([]byte, cola.ErrorCode)

// ControlConfig shapes an emulated control channel.
type ControlConfig struct {
	// Variant selects the telegram framing; VariantB when zero.
	Variant cola.Variant
	// Passwords maps access levels to their login passwords. Levels
	// without an entry cannot be logged into.
	Passwords map[uint8]string
	// WriteLevel maps variable names to the minimum access level their
	// writes require. Unlisted variables are writable at any level.
	WriteLevel map[string]uint8
	// ResponseChunk, when positive, splits every response across writes of
	// at most this many bytes, with ResponseDelay between them. Exercises
	// client reassembly.
	ResponseChunk int
	ResponseDelay time.Duration
	// Silent accepts and parses requests but never answers them.
	Silent bool
}

// ControlServer emulates the device end of the control channel.
type ControlServer struct {
	ln  net.Listener
	cfg ControlConfig

	mu         sync.Mutex
	vars       map[string][]byte
	methods    map[string]MethodFunc
	calls      map[string]int
	sessionSeq uint32
}

// StartControl listens on a loopback port and serves the emulated control
// channel until the test ends.
func StartControl(t *testing.T, cfg ControlConfig) *ControlServer {
	t.Helper()
	if cfg.Variant == 0 {
		cfg.Variant = cola.VariantB
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("devicetest: listen: %v", err)
	}
	s := &ControlServer{
		ln:      ln,
		cfg:     cfg,
		vars:    make(map[string][]byte),
		methods: make(map[string]MethodFunc),
		calls:   make(map[string]int),
	}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

// Addr returns the host:port the emulator listens on.
func (s *ControlServer) Addr() string {
	return s.ln.Addr().String()
}

// SetVar defines or replaces a variable's raw value.
func (s *ControlServer) SetVar(name string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = bytes.Clone(value)
}

// Var returns a variable's current raw value, nil if undefined.
func (s *ControlServer) Var(name string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.vars[name])
}

// SetIdent seeds the DeviceIdent variable devices report their name and
// firmware version through.
func (s *ControlServer) SetIdent(name, version string) {
	s.SetVar("DeviceIdent", cola.NewBuilder(0, "").FlexString(name).FlexString(version).Command().Params)
}

// OnMethod installs or replaces a method handler.
func (s *ControlServer) OnMethod(name string, fn MethodFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[name] = fn
}

// Calls reports how many times the named method has been invoked.
func (s *ControlServer) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *ControlServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

type connState struct {
	level   uint8
	session uint32
}

func (s *ControlServer) handleConn(conn net.Conn) {
	defer conn.Close()
	var st connState
	for {
		payload, err := readFrame(conn, s.cfg.Variant == cola.VariantB)
		if err != nil {
			return
		}
		var reply []byte
		if s.cfg.Variant == cola.VariantB {
			reply = s.handleB(payload, &st)
		} else {
			reply = s.handle2(payload, &st)
		}
		if s.cfg.Silent || reply == nil {
			continue
		}
		if err := s.writeFrame(conn, reply); err != nil {
			return
		}
	}
}

// readFrame consumes one frame from the wire and returns the full frame
// bytes including header and, for variant B, the checksum.
func readFrame(conn net.Conn, checksummed bool) ([]byte, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return nil, err
	}
	if !bytes.Equal(hdr[:4], cola.FrameMagic[:]) {
		return nil, io.ErrUnexpectedEOF
	}
	n := int(binary.BigEndian.Uint32(hdr[4:8]))
	if n > 1<<20 {
		return nil, io.ErrUnexpectedEOF
	}
	trailer := 0
	if checksummed {
		trailer = 1
	}
	frame := make([]byte, 8+n+trailer)
	copy(frame, hdr[:])
	if _, err := io.ReadFull(conn, frame[8:]); err != nil {
		return nil, err
	}
	return frame, nil
}

func (s *ControlServer) writeFrame(conn net.Conn, frame []byte) error {
	if s.cfg.ResponseChunk <= 0 {
		_, err := conn.Write(frame)
		return err
	}
	for off := 0; off < len(frame); off += s.cfg.ResponseChunk {
		end := min(off+s.cfg.ResponseChunk, len(frame))
		if _, err := conn.Write(frame[off:end]); err != nil {
			return err
		}
		if s.cfg.ResponseDelay > 0 {
			time.Sleep(s.cfg.ResponseDelay)
		}
	}
	return nil
}

func (s *ControlServer) handleB(frame []byte, st *connState) []byte {
	cmd, err := cola.DecodeCommandB(frame)
	if err != nil {
		return cola.EncodeResponseB(errResp(cola.CodeUnknownColaCommand))
	}
	return cola.EncodeResponseB(s.dispatch(cmd, st))
}

func (s *ControlServer) handle2(frame []byte, st *connState) []byte {
	tele, err := cola.DecodeTelegram2(frame)
	if err != nil {
		return nil
	}
	reply := cola.Telegram2{Session: tele.Session, Request: tele.Request}
	switch {
	case bytes.HasPrefix(tele.Body, []byte(cola.SessionOpen)):
		s.mu.Lock()
		s.sessionSeq++
		st.session = 0xBEEF0000 + s.sessionSeq
		s.mu.Unlock()
		reply.Session = st.session
		// Echo the requested session timeout.
		timeout := byte(0)
		if len(tele.Body) > 2 {
			timeout = tele.Body[2]
		}
		reply.Body = append([]byte(cola.SessionOpenReply), timeout)
	case bytes.HasPrefix(tele.Body, []byte(cola.SessionClose)):
		st.session = 0
		reply.Body = []byte(cola.SessionCloseReply)
	default:
		cmd, err := cola.ParseCommand2(tele.Body)
		switch {
		case err != nil:
			reply.Body = cola.AppendResponse2(nil, errResp(cola.CodeUnknownColaCommand))
		case tele.Session != st.session || st.session == 0:
			reply.Body = cola.AppendResponse2(nil, errResp(cola.CodeUnknownCommand))
		default:
			reply.Body = cola.AppendResponse2(nil, s.dispatch(cmd, st))
		}
	}
	return cola.EncodeTelegram2(reply)
}

func errResp(code cola.ErrorCode) cola.Response {
	return cola.Response{Type: cola.TypeError, Code: code}
}

func (s *ControlServer) dispatch(cmd cola.Command, st *connState) cola.Response {
	switch cmd.Type {
	case cola.TypeReadVariable:
		s.mu.Lock()
		v, ok := s.vars[cmd.Name]
		s.mu.Unlock()
		if !ok {
			return errResp(cola.CodeVariableUnknownIndex)
		}
		return cola.Response{Type: cola.TypeReadResponse, Name: cmd.Name, Data: v}

	case cola.TypeWriteVariable:
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.vars[cmd.Name]; !ok {
			return errResp(cola.CodeVariableUnknownIndex)
		}
		if st.level < s.cfg.WriteLevel[cmd.Name] {
			return errResp(cola.CodeVariableWriteAccessDenied)
		}
		s.vars[cmd.Name] = bytes.Clone(cmd.Params)
		return cola.Response{Type: cola.TypeWriteResponse, Name: cmd.Name}

	case cola.TypeMethod:
		s.mu.Lock()
		s.calls[cmd.Name]++
		fn := s.methods[cmd.Name]
		s.mu.Unlock()
		return s.invoke(cmd, fn, st)
	}
	return errResp(cola.CodeUnknownColaCommand)
}

func (s *ControlServer) invoke(cmd cola.Command, fn MethodFunc, st *connState) cola.Response {
	switch cmd.Name {
	case "SetAccessMode":
		r := cola.NewReader(cmd.Params)
		level := r.ReadUSInt()
		hash := r.ReadUDInt()
		if r.Err() != nil {
			return errResp(cola.CodeInvalidData)
		}
		password, known := s.cfg.Passwords[level]
		granted := known && passwordHash(password) == hash
		if granted {
			st.level = level
		}
		result := []byte{0}
		if granted {
			result[0] = 1
		}
		return cola.Response{Type: cola.TypeMethodResponse, Name: cmd.Name, Data: result}

	case "Run":
		st.level = 0
		return cola.Response{Type: cola.TypeMethodResponse, Name: cmd.Name, Data: []byte{1}}
	}

	if fn == nil {
		switch cmd.Name {
		case "PLAYSTART", "PLAYSTOP", "PLAYNEXT":
			// Acquisition methods succeed by default; tests hook them with
			// OnMethod when they need side effects.
			return cola.Response{Type: cola.TypeMethodResponse, Name: cmd.Name}
		}
		return errResp(cola.CodeMethodUnknownIndex)
	}
	data, code := fn(cola.NewReader(cmd.Params))
	if code != cola.CodeOK {
		return errResp(code)
	}
	return cola.Response{Type: cola.TypeMethodResponse, Name: cmd.Name, Data: data}
}
