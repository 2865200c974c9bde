package process

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/loykin/devrun/internal/events"
	"github.com/loykin/devrun/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// MaxLineSize bounds a single output line. Longer lines end the stream's
// forwarding; the rest of the stream is drained and discarded.
const MaxLineSize = 1 << 20

// PumpOptions tune Pump. The zero value forwards to the sink only.
type PumpOptions struct {
	// Stdout and Stderr, when set, receive a raw copy of every line.
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// Pump forwards every line of stdout and stderr to sink as a terminal_log
// event until both streams reach EOF. Order is preserved within a stream
// only. A read failure ends that stream alone; it is logged and returned
// once both streams are done.
func Pump(name string, stdout, stderr io.Reader, sink events.Sink, opts PumpOptions) error {
	if sink == nil {
		sink = events.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var g errgroup.Group
	g.Go(func() error {
		return pumpStream(name, metrics.StreamStdout, stdout, opts.Stdout, sink, logger)
	})
	g.Go(func() error {
		return pumpStream(name, metrics.StreamStderr, stderr, opts.Stderr, sink, logger)
	})
	return g.Wait()
}

func pumpStream(name, stream string, r io.Reader, tee io.Writer, sink events.Sink, logger *slog.Logger) error {
	if r == nil {
		return nil
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if tee != nil {
			_, _ = io.WriteString(tee, line+"\n")
		}
		metrics.IncLogLine(name, stream)
		sink.Publish(events.Log(name, line))
	}
	if err := sc.Err(); err != nil {
		// keep the child from blocking on a full pipe
		_, _ = io.Copy(io.Discard, r)
		logger.Debug("log stream ended", "project", name, "stream", stream, "error", err)
		return fmt.Errorf("read %s: %w", stream, err)
	}
	return nil
}
