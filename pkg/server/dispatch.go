package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cuemby/warden/pkg/auth"
	"github.com/cuemby/warden/pkg/events"
	"github.com/cuemby/warden/pkg/keystore"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/metrics"
	"github.com/cuemby/warden/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// responseUnableToAdd is the generic rejection trailer every failed
// enrollment receives after the specific reason.
const responseUnableToAdd = "ERROR: Unable to add agent"

// runDispatcher consumes the client queue. One connection at a time:
// TLS, parse, validate, respond. All failures are per-connection.
func (s *Service) runDispatcher() {
	defer s.stageWg.Done()

	logger := log.WithComponent("dispatcher")
	logger.Debug().Msg("Dispatch thread ready")

	for s.running.Load() {
		client := s.queue.PopWait(time.Now().Add(time.Second))
		if client == nil {
			continue
		}
		s.handleClient(client)
	}

	logger.Debug().Msg("Dispatch thread finished")
}

// handleClient runs the whole dispatch sequence for one connection. The
// client is owned here and released on every exit path.
func (s *Service) handleClient(client *Client) {
	defer client.Close()

	ip := client.IP()
	logger := log.WithRemoteAddr(ip).With().
		Str("component", "dispatcher").
		Str("conn_id", uuid.New().String()).
		Logger()

	conn := tls.Server(client.conn, s.tlsCfg)
	if s.cfg.RecvTimeout > 0 {
		conn.SetDeadline(time.Now().Add(s.cfg.RecvTimeout.Std()))
	}

	if err := conn.Handshake(); err != nil {
		metrics.HandshakeErrorsTotal.Inc()
		logger.Debug().Err(err).Msg("TLS handshake failed")
		return
	}

	logger.Info().Msg("New connection")

	// Additional verification of the agent's certificate
	if s.cfg.VerifyHost && s.cfg.AgentCA != "" {
		if err := verifyClientHost(conn.ConnectionState(), ip); err != nil {
			logger.Error().Err(err).Msg("Unable to verify client certificate")
			return
		}
	}

	buf := make([]byte, auth.MaxRequestSize)
	n, err := conn.Read(buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			logger.Info().Msg("Client timeout")
		} else {
			logger.Error().Err(err).Msg("TLS read error")
		}
		return
	}

	request := string(buf[:n])
	logger.Debug().Str("request", request).Msg("Request received")

	req, err := auth.ParseRequest(request)
	if err != nil {
		metrics.EnrollmentsTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
		s.reject(conn, logger, "", err)
		return
	}

	enrollIP := "any"
	if s.cfg.UseSourceIP {
		enrollIP = ip
	}

	if s.cfg.WorkerNode {
		s.enrollForwarded(conn, logger, req, enrollIP)
	} else {
		s.enrollLocal(conn, logger, req, enrollIP, ip)
	}
}

// enrollLocal is the master path: validate and stage under the keystore
// mutex, deliver the response, then commit or roll back. The TLS write of
// the success response happens before the insert-journal append, so a
// client that received K: appears in at most one subsequent flush.
func (s *Service) enrollLocal(conn *tls.Conn, logger zerolog.Logger, req *types.EnrollmentRequest, enrollIP, sourceIP string) {
	var staged *keystore.Staged
	var agent *types.Agent

	err := s.keys.Update(func(tx *keystore.Tx) error {
		res, err := auth.Validate(tx, req, enrollIP, auth.Policy{
			Password:    s.password,
			ForceInsert: s.cfg.ForceInsert,
		})
		if err != nil {
			return err
		}

		if res.Existing != nil {
			agent = res.Existing.Clone()
			return nil
		}

		// Force replacement: the displaced entry moves to the remove
		// journal inside the same critical section as the new insert.
		for _, id := range res.Displace {
			if err := tx.Remove(id, true); err != nil {
				return err
			}
		}

		st, err := tx.Stage(req.Name, enrollIP, req.Group)
		if err != nil {
			return err
		}
		staged = st
		agent = st.Agent().Clone()
		return nil
	})
	if err != nil {
		metrics.EnrollmentsTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
		s.broker.Publish(&events.Event{Type: events.EventAgentRejected, AgentName: req.Name, RemoteIP: sourceIP, Message: err.Error()})
		s.reject(conn, logger, req.Name, err)
		return
	}

	response := auth.FormatKeyResponse(agent.ID, agent.Name, agent.IP, agent.RawKey)
	logger.Info().Str("agent", agent.Name).Str("agent_id", agent.ID).Msg("Agent key generated")

	if _, werr := conn.Write([]byte(response)); werr != nil {
		logger.Error().Err(werr).Msg("TLS write error")
		if staged != nil {
			s.keys.Rollback(staged)
			logger.Error().Str("agent", agent.Name).Msg("Agent key not saved")
		}
		return
	}

	if staged != nil {
		// Add pending key to write
		s.keys.Commit(staged)
		metrics.AgentsTotal.Set(float64(s.keys.LiveCount()))
		metrics.EnrollmentsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
		s.broker.Publish(&events.Event{Type: events.EventAgentEnrolled, AgentID: agent.ID, AgentName: agent.Name, RemoteIP: sourceIP})
	} else {
		metrics.EnrollmentsTotal.WithLabelValues(metrics.OutcomeReused).Inc()
		s.broker.Publish(&events.Event{Type: events.EventAgentReused, AgentID: agent.ID, AgentName: agent.Name, RemoteIP: sourceIP})
	}
}

// enrollForwarded is the worker path: the master decides, this node only
// relays. No local keystore mutation on any branch.
func (s *Service) enrollForwarded(conn *tls.Conn, logger zerolog.Logger, req *types.EnrollmentRequest, enrollIP string) {
	logger.Info().Msg("Dispatching request to master node")

	if err := auth.CheckPassword(s.password, req.Password); err != nil {
		metrics.EnrollmentsTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
		s.reject(conn, logger, req.Name, err)
		return
	}

	// The force registration settings are ignored for workers. The
	// master decides.
	id, key, err := s.cluster.AddAgent(req.Name, enrollIP, req.Group, req.KeyHash)
	if err != nil {
		metrics.EnrollmentsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		logger.Error().Err(err).Msg("Clustered enrollment failed")
		s.reject(conn, logger, req.Name, err)
		return
	}

	response := auth.FormatKeyResponse(id, req.Name, enrollIP, key)
	if _, werr := conn.Write([]byte(response)); werr != nil {
		logger.Error().Err(werr).Msg("TLS write error")
		if rerr := s.cluster.RemoveAgent(id, true); rerr != nil {
			logger.Error().Str("agent", req.Name).
				Msg("Agent key unable to be shared and unable to delete from master node")
		} else {
			logger.Error().Str("agent", req.Name).Msg("Agent key not saved")
		}
		return
	}

	metrics.EnrollmentsTotal.WithLabelValues(metrics.OutcomeForwarded).Inc()
	s.broker.Publish(&events.Event{Type: events.EventAgentEnrolled, AgentID: id, AgentName: req.Name, RemoteIP: enrollIP})
}

// reject delivers the failure reason and the generic trailer,
// best-effort, then lets the caller close the connection.
func (s *Service) reject(conn *tls.Conn, logger zerolog.Logger, name string, cause error) {
	if name != "" {
		logger.Warn().Err(cause).Str("agent", name).Msg("Enrollment rejected")
	} else {
		logger.Warn().Err(cause).Msg("Enrollment rejected")
	}

	conn.Write([]byte(fmt.Sprintf("ERROR: %s", cause.Error())))
	conn.Write([]byte(responseUnableToAdd))
}
