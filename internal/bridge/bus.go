package bridge

import (
	"context"

	"github.com/DevGitPit/supertonic/internal/bus"
)

// ServeBus answers host requests published on the configured subject.
func (s *Server) ServeBus(ctx context.Context, client *bus.Client) error {
	cfg := s.cfg.Bus
	return client.Serve(ctx, cfg.Subject, cfg.QueueGroup, func(ctx context.Context, body []byte) []byte {
		return s.Forward(ctx, "nats", body)
	})
}
