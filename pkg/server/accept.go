package server

import (
	"errors"
	"net"
	"time"

	"github.com/cuemby/warden/pkg/events"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/metrics"
)

// runAccept owns the listening socket. The accept deadline bounds
// cancellation latency to about one second.
func (s *Service) runAccept() {
	defer s.stageWg.Done()

	logger := log.WithComponent("accept")
	logger.Debug().Msg("Remote server ready")

	if s.cfg.RecvTimeout > 0 {
		logger.Info().Dur("timeout", s.cfg.RecvTimeout.Std()).Msg("Setting network timeout")
	} else {
		logger.Debug().Msg("Network timeout is disabled")
	}

	for s.running.Load() {
		s.listener.SetDeadline(time.Now().Add(time.Second))

		conn, err := s.listener.Accept()
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			logger.Error().Err(err).Msg("accept failed")
			continue
		}

		client := NewClient(conn)

		if err := s.queue.Push(client); err != nil {
			logger.Error().Str("remote_addr", client.IP()).Msg("Too many connections. Rejecting.")
			metrics.QueueDropsTotal.Inc()
			s.broker.Publish(&events.Event{Type: events.EventQueueSaturated, RemoteIP: client.IP()})
			client.Close()
		}
	}

	logger.Debug().Msg("Remote server thread finished")
	s.listener.Close()
}
