package replay

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/visionary/stream"
)

// maxSegment is the payload carried per synthesized TCP segment, a standard
// ethernet MSS.
const maxSegment = 1460

// WriterConfig parameterizes Create.
type WriterConfig struct {
	// Path of the pcap file to create.
	Path string

	// Port is the source port stamped on the synthesized segments;
	// stream.DefaultDataPort when zero.
	Port int
}

// Writer synthesizes a legacy pcap capture of a device data stream: one
// ethernet/IPv4/TCP conversation from the device port, segmented at MSS like
// a real stream would arrive.
type Writer struct {
	f    *os.File
	pw   *pcapgo.Writer
	eth  layers.Ethernet
	ip   layers.IPv4
	tcp  layers.TCP
	opts gopacket.SerializeOptions
}

// Create creates the capture file and writes its header.
func Create(cfg WriterConfig) (*Writer, error) {
	port := cfg.Port
	if port == 0 {
		port = stream.DefaultDataPort
	}
	f, err := os.Create(cfg.Path)
	if err != nil {
		return nil, err
	}
	pw := pcapgo.NewWriter(f)
	if err := pw.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, fmt.Errorf("replay: write pcap header: %w", err)
	}

	w := &Writer{
		f:  f,
		pw: pw,
		eth: layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x00, 0x06, 0x77, 0x0a, 0x0b, 0x0c},
			DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
			EthernetType: layers.EthernetTypeIPv4,
		},
		ip: layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    net.IP{192, 168, 1, 10},
			DstIP:    net.IP{192, 168, 1, 1},
		},
		tcp: layers.TCP{
			SrcPort: layers.TCPPort(port),
			DstPort: 54321,
			Seq:     1,
			ACK:     true,
			Window:  65535,
		},
		opts: gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
	}
	w.tcp.SetNetworkLayerForChecksum(&w.ip)
	return w, nil
}

// WriteFrame appends one frame in wire form, stamped with the frame's own
// timestamp.
func (w *Writer) WriteFrame(f *stream.Frame) error {
	return w.WriteRaw(stream.EncodeFrame(f), time.UnixMilli(int64(f.TimestampMS)))
}

// WriteRaw appends arbitrary stream bytes, segmenting at MSS. Tests use it
// to splice noise between frames.
func (w *Writer) WriteRaw(p []byte, ts time.Time) error {
	for off := 0; off < len(p); off += maxSegment {
		end := min(off+maxSegment, len(p))

		buf := gopacket.NewSerializeBuffer()
		err := gopacket.SerializeLayers(buf, w.opts, &w.eth, &w.ip, &w.tcp, gopacket.Payload(p[off:end]))
		if err != nil {
			return fmt.Errorf("replay: serialize segment: %w", err)
		}
		w.tcp.Seq += uint32(end - off)

		ci := gopacket.CaptureInfo{
			Timestamp:     ts,
			CaptureLength: len(buf.Bytes()),
			Length:        len(buf.Bytes()),
		}
		if err := w.pw.WritePacket(ci, buf.Bytes()); err != nil {
			return fmt.Errorf("replay: write segment: %w", err)
		}
	}
	return nil
}

// Close closes the capture file.
func (w *Writer) Close() error {
	return w.f.Close()
}
