// Package replay moves recorded device streams through pcap files. Reader
// feeds captured TCP segments to the same decoder the live client uses, so
// field recordings exercise exactly the production parse path; Writer
// synthesizes captures from frames, which makes fixtures and live recordings
// interchangeable.
package replay

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/visionary/stream"
)

// pcapng section header block type, the same bytes in either endianness.
var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// Config parameterizes Open.
type Config struct {
	// Path is the pcap or pcapng file to read; the format is sniffed.
	Path string

	// Port is the device data port; stream.DefaultDataPort when zero. Only
	// TCP segments sent from this port are replayed, which selects the
	// device-to-client half of the conversation.
	Port int
}

// Reader replays the frames of one captured stream.
type Reader struct {
	f    *os.File
	src  *gopacket.PacketSource
	port layers.TCPPort
	dec  stream.Decoder
}

// Open opens a capture file for replay.
func Open(cfg Config) (*Reader, error) {
	port := cfg.Port
	if port == 0 {
		port = stream.DefaultDataPort
	}
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, err
	}
	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("replay: %s: %w", cfg.Path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}

	r := &Reader{f: f, port: layers.TCPPort(port)}
	if bytes.Equal(magic[:], pcapngMagic) {
		ng, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("replay: open pcapng %s: %w", cfg.Path, err)
		}
		r.src = gopacket.NewPacketSource(ng, ng.LinkType())
	} else {
		pr, err := pcapgo.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("replay: open pcap %s: %w", cfg.Path, err)
		}
		r.src = gopacket.NewPacketSource(pr, pr.LinkType())
	}
	return r, nil
}

// Next returns the next captured frame. It reads segments until the decoder
// completes one, and returns io.EOF when the capture is exhausted.
func (r *Reader) Next() (*stream.Frame, error) {
	for {
		if f, ok := r.dec.Next(); ok {
			return f, nil
		}
		pkt, err := r.src.NextPacket()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("replay: read capture: %w", err)
		}
		tcpLayer := pkt.Layer(layers.LayerTypeTCP)
		if tcpLayer == nil {
			continue
		}
		tcp := tcpLayer.(*layers.TCP)
		if tcp.SrcPort != r.port || len(tcp.Payload) == 0 {
			continue
		}
		r.dec.Write(tcp.Payload)
	}
}

// Dropped reports how many malformed or truncated frames the decoder skipped
// over so far.
func (r *Reader) Dropped() uint64 {
	return r.dec.Dropped()
}

// Close closes the capture file.
func (r *Reader) Close() error {
	return r.f.Close()
}
