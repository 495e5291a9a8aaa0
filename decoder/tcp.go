package decoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TCPSource accepts any number of line-oriented decoder connections on
// one listen address. Each line is one detection (see ParseLine).
type TCPSource struct {
	addr string
	log  zerolog.Logger

	mu sync.Mutex
	ln net.Listener // set while running, for Addr
}

// NewTCPSource returns an unstarted TCP feed.
func NewTCPSource(addr string, log zerolog.Logger) *TCPSource {
	return &TCPSource{addr: addr, log: log.With().Str("comp", "feed_tcp").Logger()}
}

// Name implements Source.
func (s *TCPSource) Name() string { return "tcp:" + s.addr }

// Addr returns the bound listen address, once Run has started.
func (s *TCPSource) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Run listens until ctx is canceled. Connection-level failures are
// logged and do not stop the listener.
func (s *TCPSource) Run(ctx context.Context, emit func(RawDetection)) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("decoder: listen tcp %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("decoder feed listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.log.Warn().Err(err).Msg("accept failed")
			if errors.Is(err, net.ErrClosed) {
				break
			}
			continue
		}
		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			s.serve(ctx, c, emit)
		}(conn)
	}
	wg.Wait()
	return nil
}

func (s *TCPSource) serve(ctx context.Context, conn net.Conn, emit func(RawDetection)) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	s.log.Info().Str("remote", remote).Msg("decoder connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024)
	for sc.Scan() {
		raw, err := ParseLine(sc.Text(), time.Now())
		if err != nil {
			if !errors.Is(err, ErrSkipLine) {
				s.log.Warn().Err(err).Str("remote", remote).Msg("bad detection line")
			}
			continue
		}
		emit(raw)
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		s.log.Warn().Err(err).Str("remote", remote).Msg("decoder read failed")
	}
	s.log.Info().Str("remote", remote).Msg("decoder disconnected")
}
