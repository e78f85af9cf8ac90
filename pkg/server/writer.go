package server

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/warden/pkg/agentdb"
	"github.com/cuemby/warden/pkg/events"
	"github.com/cuemby/warden/pkg/keystore"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/metrics"
	"github.com/cuemby/warden/pkg/types"
	"github.com/rs/zerolog"
)

// runWriter is the single journal consumer: wait for the pending signal,
// take ownership of the journals and a keystore clone in one critical
// section, then persist. The key file is made durable before any database
// mutation, so on crash the on-disk keystore is a superset of the
// database.
func (s *Service) runWriter() {
	defer s.writerWg.Done()

	logger := log.WithComponent("writer")
	logger.Debug().Msg("Writer thread ready")

	for {
		pending := s.keys.WaitPending(s.running.Load)
		if !pending {
			if !s.running.Load() {
				return
			}
			continue
		}

		logger.Debug().Msg("Dumping changes into disk")
		start := time.Now()

		inserts, removes, snapshot := s.keys.SwapForFlush()
		s.flush(logger, inserts, removes, snapshot)

		metrics.FlushesTotal.Inc()
		metrics.FlushDuration.Observe(time.Since(start).Seconds())
		s.broker.Publish(&events.Event{
			Type:    events.EventKeystoreFlush,
			Message: fmt.Sprintf("inserted=%d removed=%d", len(inserts), len(removes)),
		})
	}
}

// flush persists a snapshot and replays the journals. A failed key or
// timestamp file write is logged and paced with a one-second sleep; a
// failed database call is logged and counted without a sleep. The journal
// records are dropped either way, because the key file rewrite on the
// next flush is authoritative.
func (s *Service) flush(logger zerolog.Logger, inserts, removes []types.KeyChange, snapshot []*types.Agent) {
	if err := keystore.WriteFile(s.cfg.KeysPath(), snapshot); err != nil {
		logger.Error().Err(err).Msg("Couldn't write key file")
		metrics.FlushErrorsTotal.WithLabelValues("keys").Inc()
		time.Sleep(time.Second)
	}

	if err := keystore.WriteTimestamps(s.cfg.TimestampPath(), snapshot); err != nil {
		logger.Error().Err(err).Msg("Couldn't write timestamp file")
		metrics.FlushErrorsTotal.WithLabelValues("timestamps").Inc()
		time.Sleep(time.Second)
	}

	syncLabel := agentdb.SyncLabelSyncReq
	if s.cfg.SingleNode {
		syncLabel = agentdb.SyncLabelSynced
	}

	for _, change := range inserts {
		agent := change.Agent
		alog := log.WithAgentID(agent.ID)
		alog.Debug().Str("agent", agent.Name).Msg("Performing insert")

		if err := s.db.InsertAgent(agent); err != nil {
			alog.Debug().Err(err).Msg("Agent already exists in the database")
			metrics.FlushErrorsTotal.WithLabelValues("database").Inc()
		}

		if agent.Group != "" {
			if err := s.db.SetAgentGroups(agent.ID, agent.Group, agentdb.GroupModeOverride, syncLabel); err != nil {
				alog.Error().Err(err).Str("group", agent.Group).Msg("Unable to set agent centralized group")
				metrics.FlushErrorsTotal.WithLabelValues("database").Inc()
			}
		}
	}

	for _, change := range removes {
		agent := change.Agent
		alog := log.WithAgentID(agent.ID)
		alog.Debug().Str("agent", agent.Name).Msg("Performing delete")

		s.removeAuxiliaryFiles(alog, agent)

		if err := s.db.RemoveAgent(agent.ID); err != nil {
			alog.Debug().Err(err).Msg("Could not remove agent from database")
			metrics.FlushErrorsTotal.WithLabelValues("database").Inc()
		}
		if err := s.db.Remove(agent.ID); err != nil {
			alog.Debug().Err(err).Msg("Generic remove query failed")
			metrics.FlushErrorsTotal.WithLabelValues("database").Inc()
		}

		s.broker.Publish(&events.Event{Type: events.EventAgentRemoved, AgentID: agent.ID, AgentName: agent.Name})
	}

	metrics.AgentsTotal.Set(float64(s.keys.LiveCount()))
}

// removeAuxiliaryFiles deletes the per-agent state files that accompany a
// keystore entry: the agent-info record and the message counter.
func (s *Service) removeAuxiliaryFiles(logger zerolog.Logger, agent *types.Agent) {
	fullName := fmt.Sprintf("%s-%s", agent.Name, agent.IP)

	for _, path := range []string{
		filepath.Join(s.cfg.DataDir, "agent-info", fullName),
		filepath.Join(s.cfg.DataDir, "rids", agent.ID),
	} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Debug().Err(err).Str("path", path).Msg("Could not remove agent file")
		}
	}
}
