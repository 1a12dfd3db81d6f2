// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wevo7526/nexi-relay/pkg/event"
)

// maxLineBytes caps a single upstream line so a stream without newlines
// cannot grow the pending buffer without bound.
const maxLineBytes = 1 << 20

var (
	// ErrIdleTimeout aborts a session whose upstream went quiet.
	ErrIdleTimeout = errors.New("upstream idle timeout exceeded")
	// ErrLineTooLong aborts a session whose upstream sent an oversized line.
	ErrLineTooLong = errors.New("upstream event line too long")
)

// pump copies src to dst line by line until src ends or either side fails.
// The reader goroutine chunks and splits; the writer translates, writes and
// flushes. Any writer failure cancels the upstream request through
// stopUpstream so a blocked Read returns.
func (rl *Relay) pump(ctx context.Context, stopUpstream context.CancelCauseFunc, src io.Reader, dst io.Writer, flusher http.Flusher, s *Session) error {
	g, gctx := errgroup.WithContext(ctx)

	lines := make(chan []byte)
	activity := make(chan struct{}, 1)

	g.Go(func() error {
		defer close(lines)
		return readLines(gctx, src, rl.chunkSize, lines, activity)
	})

	g.Go(func() error {
		err := rl.writeEvents(gctx, dst, flusher, lines, activity, s)
		if err != nil {
			stopUpstream(err)
		}
		return err
	})

	return g.Wait()
}

// readLines reads src in chunkSize pieces and emits every complete line
// without its newline. A trailing unterminated line is emitted at EOF.
func readLines(ctx context.Context, src io.Reader, chunkSize int, out chan<- []byte, activity chan<- struct{}) error {
	buf := make([]byte, chunkSize)
	pending := make([]byte, 0, chunkSize)

	emit := func(line []byte) error {
		select {
		case out <- line:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		n, err := src.Read(buf)
		if n > 0 {
			select {
			case activity <- struct{}{}:
			default:
			}

			pending = append(pending, buf[:n]...)
			start := 0
			for {
				idx := bytes.IndexByte(pending[start:], '\n')
				if idx < 0 {
					break
				}
				line := make([]byte, idx)
				copy(line, pending[start:start+idx])
				start += idx + 1
				if emitErr := emit(line); emitErr != nil {
					return emitErr
				}
			}
			pending = append(pending[:0], pending[start:]...)
			if len(pending) > maxLineBytes {
				return ErrLineTooLong
			}
		}

		if errors.Is(err, io.EOF) {
			if len(pending) > 0 {
				return emit(pending)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("read upstream: %w", err)
		}
	}
}

// writeEvents drains lines, writing one translated event per data line. It
// also owns the idle deadline and the optional keep-alive heartbeat.
func (rl *Relay) writeEvents(ctx context.Context, dst io.Writer, flusher http.Flusher, lines <-chan []byte, activity <-chan struct{}, s *Session) error {
	var idleC <-chan time.Time
	var idle *time.Timer
	if rl.idleTimeout > 0 {
		idle = time.NewTimer(rl.idleTimeout)
		defer idle.Stop()
		idleC = idle.C
	}
	touch := func() {
		if idle != nil {
			idle.Reset(rl.idleTimeout)
		}
	}

	var keepAliveC <-chan time.Time
	if rl.keepAlive > 0 {
		ticker := time.NewTicker(rl.keepAlive)
		defer ticker.Stop()
		keepAliveC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-idleC:
			return fmt.Errorf("%w after %s", ErrIdleTimeout, rl.idleTimeout)

		case <-activity:
			touch()

		case <-keepAliveC:
			if _, err := io.WriteString(dst, ":keepalive\n\n"); err != nil {
				return fmt.Errorf("write keepalive: %w", err)
			}
			flusher.Flush()

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			touch()

			out, parseErr := event.Translate(line)
			if out == nil {
				continue
			}
			if parseErr != nil {
				s.logger.Warn().
					Err(parseErr).
					Int("line_bytes", len(line)).
					Msg("malformed upstream event replaced")
			}

			if _, err := dst.Write(out); err != nil {
				return fmt.Errorf("write downstream: %w", err)
			}
			flusher.Flush()
			s.recordEvent(parseErr != nil)
		}
	}
}
