package decoder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// UDPSource reads detections from datagrams. A datagram may carry
// several newline-separated detection lines.
type UDPSource struct {
	addr string
	log  zerolog.Logger

	mu sync.Mutex
	pc net.PacketConn
}

// NewUDPSource returns an unstarted UDP feed.
func NewUDPSource(addr string, log zerolog.Logger) *UDPSource {
	return &UDPSource{addr: addr, log: log.With().Str("comp", "feed_udp").Logger()}
}

// Name implements Source.
func (s *UDPSource) Name() string { return "udp:" + s.addr }

// Addr returns the bound address, once Run has started.
func (s *UDPSource) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pc == nil {
		return nil
	}
	return s.pc.LocalAddr()
}

// Run reads datagrams until ctx is canceled.
func (s *UDPSource) Run(ctx context.Context, emit func(RawDetection)) error {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", s.addr)
	if err != nil {
		return fmt.Errorf("decoder: listen udp %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.pc = pc
	s.mu.Unlock()
	s.log.Info().Str("addr", pc.LocalAddr().String()).Msg("decoder feed listening")

	go func() {
		<-ctx.Done()
		pc.Close()
	}()

	buf := make([]byte, 2048)
	for {
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("decoder: read udp: %w", err)
		}
		now := time.Now()
		for _, line := range strings.Split(string(buf[:n]), "\n") {
			raw, err := ParseLine(line, now)
			if err != nil {
				if !errors.Is(err, ErrSkipLine) {
					s.log.Warn().Err(err).Msg("bad detection datagram")
				}
				continue
			}
			emit(raw)
		}
	}
}
