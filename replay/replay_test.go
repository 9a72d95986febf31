package replay_test

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/visionary/internal/devicetest"
	"github.com/banshee-data/visionary/replay"
	"github.com/banshee-data/visionary/stream"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.pcap")

	// The 64x48 frame spans many MSS-sized segments.
	want := []*stream.Frame{
		devicetest.ToFFrame(1, 4, 3),
		devicetest.ToFFrame(2, 64, 48),
		devicetest.StereoFrame(3, 8, 6),
	}
	w, err := replay.Create(replay.WriterConfig{Path: path})
	require.NoError(t, err)
	for _, f := range want {
		require.NoError(t, w.WriteFrame(f))
	}
	require.NoError(t, w.Close())

	r, err := replay.Open(replay.Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	var got []*stream.Frame
	for {
		f, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, f.Clone())
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("replayed frames mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, uint64(0), r.Dropped())
}

func TestReaderSkipsCorruptFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noisy.pcap")

	w, err := replay.Create(replay.WriterConfig{Path: path})
	require.NoError(t, err)

	// A frame header whose declared length is absurd forces a resync.
	noise := append([]byte{0x02, 0x02, 0x02, 0x02, 0xff, 0xff, 0xff, 0xff}, "not a frame"...)
	require.NoError(t, w.WriteRaw(noise, time.UnixMilli(1700000000000)))
	require.NoError(t, w.WriteFrame(devicetest.ToFFrame(5, 4, 3)))
	require.NoError(t, w.Close())

	r, err := replay.Open(replay.Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	f, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, uint32(5), f.Number)
	require.Equal(t, uint64(1), r.Dropped())

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReaderFiltersForeignPorts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.pcap")

	w, err := replay.Create(replay.WriterConfig{Path: path, Port: 9999})
	require.NoError(t, err)
	require.NoError(t, w.WriteFrame(devicetest.ToFFrame(1, 4, 3)))
	require.NoError(t, w.Close())

	// Default port 2114 sees none of the port-9999 traffic.
	r, err := replay.Open(replay.Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)

	// Asking for the right port replays it.
	r2, err := replay.Open(replay.Config{Path: path, Port: 9999})
	require.NoError(t, err)
	t.Cleanup(func() { r2.Close() })

	f, err := r2.Next()
	require.NoError(t, err)
	require.Equal(t, uint32(1), f.Number)
}
