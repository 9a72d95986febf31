// Command visfetch walks through a full device session: it connects to
// the control channel, reports the device identity, optionally logs in,
// then pulls frames from the data channel — one stepped frame first,
// then a continuous run. Frames can be appended to a capture database
// and the stepped frame can be exported as a PLY point cloud. With
// -pcap the frames come from a packet capture instead of a live device.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/visionary/capture"
	"github.com/banshee-data/visionary/cola"
	"github.com/banshee-data/visionary/control"
	"github.com/banshee-data/visionary/internal/version"
	"github.com/banshee-data/visionary/pointcloud"
	"github.com/banshee-data/visionary/replay"
	"github.com/banshee-data/visionary/stream"
)

var (
	addr        = flag.String("addr", "192.168.1.10", "Device address (control port may be appended as host:port)")
	useCola2    = flag.Bool("cola2", false, "Use CoLa 2 on the control channel (default CoLa B)")
	dataPort    = flag.Int("data-port", stream.DefaultDataPort, "Data channel port")
	frameCount  = flag.Int("frames", 10, "Number of frames to fetch in continuous mode")
	level       = flag.String("level", "client", "Access level for login: run, operator, maintenance, client or service")
	password    = flag.String("password", "", "Password for the access level; empty skips login")
	timeout     = flag.Duration("timeout", 5*time.Second, "Per-request and per-frame timeout")
	capturePath = flag.String("capture", "", "Append received frames to this capture database")
	pcapPath    = flag.String("pcap", "", "Read frames from this pcap file instead of a live device")
	plyPath     = flag.String("ply", "", "Write the first frame's point cloud to this PLY file")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("visfetch %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store *capture.Store
	if *capturePath != "" {
		var err error
		store, err = capture.Open(*capturePath)
		if err != nil {
			log.Fatalf("Failed to open capture database: %v", err)
		}
		defer store.Close()
	}

	if *pcapPath != "" {
		if err := fetchReplay(ctx, store); err != nil {
			log.Fatalf("Replay failed: %v", err)
		}
		return
	}
	if err := fetchLive(ctx, store); err != nil {
		log.Fatalf("Fetch failed: %v", err)
	}
}

func fetchLive(ctx context.Context, store *capture.Store) error {
	variant := cola.VariantB
	if *useCola2 {
		variant = cola.Variant2
	}

	ctl, err := control.Open(control.Config{
		Addr:    *addr,
		Variant: variant,
		Timeout: *timeout,
	})
	if err != nil {
		return fmt.Errorf("open control channel: %w", err)
	}
	defer ctl.Close()

	// Stop acquisition before anything else so no stale frames sit in the
	// data channel when it is opened below. Stopping succeeds even when
	// the device is already stopped.
	if err := ctl.StopAcquisition(); err != nil {
		return err
	}

	ident, err := ctl.Ident()
	if err != nil {
		return err
	}
	log.Printf("Device: %s (version %s)", ident.Name, ident.Version)

	if *password != "" {
		lvl, err := parseLevel(*level)
		if err != nil {
			return err
		}
		if err := ctl.Login(lvl, *password); err != nil {
			return err
		}
		log.Printf("Logged in as %s", lvl)
		defer func() {
			if err := ctl.Logout(); err != nil {
				log.Printf("Logout failed: %v", err)
			}
		}()
	}

	// Give the stop a moment to propagate before connecting, so the first
	// frame pulled is a fresh one.
	time.Sleep(100 * time.Millisecond)

	ds, err := stream.Open(dataAddr(), *timeout)
	if err != nil {
		return fmt.Errorf("open data channel: %w", err)
	}
	defer ds.Close()

	var sessionID string
	if store != nil {
		sessionID, err = store.BeginSession(ident.Name, *addr)
		if err != nil {
			return err
		}
		log.Printf("Capturing to session %s", sessionID)
	}

	// Single stepped frame first. This is the frame exported to PLY.
	if err := ctl.StepAcquisition(); err != nil {
		return err
	}
	f, err := ds.GetNextFrame(*timeout)
	if err != nil {
		return fmt.Errorf("stepped frame: %w", err)
	}
	log.Printf("Stepped frame #%d, timestamp %d (%dx%d)", f.Number, f.TimestampMS, f.Width, f.Height)
	if store != nil {
		if err := store.AppendFrame(sessionID, f); err != nil {
			return fmt.Errorf("capture frame: %w", err)
		}
	}
	if *plyPath != "" {
		if err := writePLY(*plyPath, f); err != nil {
			return fmt.Errorf("write point cloud: %w", err)
		}
		log.Printf("Point cloud written to %s", *plyPath)
	}

	if err := ctl.StartAcquisition(); err != nil {
		return err
	}

	got := 0
	for i := 0; i < *frameCount; i++ {
		if ctx.Err() != nil {
			log.Printf("Interrupted after %d frames", got)
			break
		}
		f, err := ds.GetNextFrame(*timeout)
		if errors.Is(err, stream.ErrTimeout) {
			log.Printf("Frame timeout in continuous mode after %d frames", got)
			continue
		}
		if err != nil {
			return fmt.Errorf("continuous frame: %w", err)
		}
		got++
		log.Printf("Frame #%d, timestamp %d (%dx%d)", f.Number, f.TimestampMS, f.Width, f.Height)
		if store != nil {
			if err := store.AppendFrame(sessionID, f); err != nil {
				return fmt.Errorf("capture frame: %w", err)
			}
		}
	}

	if err := ctl.StopAcquisition(); err != nil {
		log.Printf("Stop after streaming failed: %v", err)
	}

	fmt.Printf("Received %d of %d continuous frame(s), %d undecodable\n", got, *frameCount, ds.Dropped())
	return nil
}

func fetchReplay(ctx context.Context, store *capture.Store) error {
	r, err := replay.Open(replay.Config{Path: *pcapPath, Port: *dataPort})
	if err != nil {
		return fmt.Errorf("open pcap: %w", err)
	}
	defer r.Close()

	var sessionID string
	if store != nil {
		sessionID, err = store.BeginSession(filepath.Base(*pcapPath), "pcap")
		if err != nil {
			return err
		}
		log.Printf("Capturing to session %s", sessionID)
	}

	got := 0
	for ctx.Err() == nil {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("frame after %d: %w", got, err)
		}
		log.Printf("Frame #%d, timestamp %d (%dx%d)", f.Number, f.TimestampMS, f.Width, f.Height)
		if store != nil {
			if err := store.AppendFrame(sessionID, f); err != nil {
				return fmt.Errorf("capture frame: %w", err)
			}
		}
		if *plyPath != "" && got == 0 {
			if err := writePLY(*plyPath, f); err != nil {
				return fmt.Errorf("write point cloud: %w", err)
			}
			log.Printf("Point cloud written to %s", *plyPath)
		}
		got++
	}

	fmt.Printf("Replayed %d frame(s) from %s, %d undecodable\n", got, *pcapPath, r.Dropped())
	return nil
}

// dataAddr derives the data channel endpoint from -addr and -data-port,
// dropping any control port carried in -addr.
func dataAddr() string {
	host := *addr
	if h, _, err := net.SplitHostPort(*addr); err == nil {
		host = h
	}
	return net.JoinHostPort(host, strconv.Itoa(*dataPort))
}

func parseLevel(s string) (control.AccessLevel, error) {
	switch strings.ToLower(s) {
	case "run":
		return control.LevelRun, nil
	case "operator":
		return control.LevelOperator, nil
	case "maintenance":
		return control.LevelMaintenance, nil
	case "client", "authorizedclient":
		return control.LevelAuthorizedClient, nil
	case "service":
		return control.LevelService, nil
	}
	return 0, fmt.Errorf("unknown access level %q", s)
}

// writePLY exports a frame as an ASCII PLY point cloud, one vertex per
// valid pixel. ToF frames carry an intensity property, stereo frames a
// red/green/blue triple.
func writePLY(path string, f *stream.Frame) error {
	pts, err := pointcloud.NewProjector().Generate(f)
	if err != nil {
		return err
	}
	pointcloud.Transform(pts, f.CamToWorld)

	valid := 0
	for _, p := range pts {
		if !p.IsZero() {
			valid++
		}
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	w := bufio.NewWriter(out)
	fmt.Fprintln(w, "ply")
	fmt.Fprintln(w, "format ascii 1.0")
	fmt.Fprintf(w, "element vertex %d\n", valid)
	fmt.Fprintln(w, "property float x")
	fmt.Fprintln(w, "property float y")
	fmt.Fprintln(w, "property float z")
	if f.Kind == stream.KindStereo {
		fmt.Fprintln(w, "property uchar red")
		fmt.Fprintln(w, "property uchar green")
		fmt.Fprintln(w, "property uchar blue")
	} else {
		fmt.Fprintln(w, "property uint intensity")
	}
	fmt.Fprintln(w, "end_header")

	for i, p := range pts {
		if p.IsZero() {
			continue
		}
		if f.Kind == stream.KindStereo {
			c := f.RGBA[i]
			fmt.Fprintf(w, "%g %g %g %d %d %d\n", p.X, p.Y, p.Z, byte(c), byte(c>>8), byte(c>>16))
		} else {
			fmt.Fprintf(w, "%g %g %g %d\n", p.X, p.Y, p.Z, f.Intensity[i])
		}
	}
	return w.Flush()
}
