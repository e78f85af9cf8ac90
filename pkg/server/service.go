package server

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cuemby/warden/pkg/agentdb"
	"github.com/cuemby/warden/pkg/auth"
	"github.com/cuemby/warden/pkg/cluster"
	"github.com/cuemby/warden/pkg/config"
	"github.com/cuemby/warden/pkg/events"
	"github.com/cuemby/warden/pkg/keystore"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/metrics"
)

// Service owns all daemon state: the keystore, the TLS context, the
// client queue, the database and cluster clients and the running flag.
// Every stage observes the same running flag and the same keystore.
type Service struct {
	cfg      *config.Config
	keys     *keystore.Keystore
	tlsCfg   *tls.Config
	queue    *ClientQueue
	db       agentdb.Client
	cluster  *cluster.Client
	broker   *events.Broker
	password string

	listener *net.TCPListener
	running  atomic.Bool

	// accept and dispatch join before the writer is signaled
	stageWg  sync.WaitGroup
	writerWg sync.WaitGroup
}

// New creates the service: TLS context, listening socket, enrollment
// password, keystore load and database client. Any failure here is fatal
// startup, before threads exist.
func New(cfg *config.Config) (*Service, error) {
	s := &Service{
		cfg:    cfg,
		keys:   keystore.New(),
		broker: events.NewBroker(),
	}

	if cfg.RemoteEnrollment {
		tlsCfg, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("SSL error: %w", err)
		}
		s.tlsCfg = tlsCfg

		network := "tcp4"
		if cfg.IPv6 {
			network = "tcp"
		}
		addr := &net.TCPAddr{IP: net.ParseIP(cfg.BindAddr), Port: cfg.Port}
		ln, err := net.ListenTCP(network, addr)
		if err != nil {
			return nil, fmt.Errorf("unable to bind port %d: %w", cfg.Port, err)
		}
		s.listener = ln

		s.queue = NewClientQueue(cfg.PoolSize)

		if err := s.setupPassword(); err != nil {
			ln.Close()
			return nil, err
		}
	}

	if cfg.WorkerNode {
		s.cluster = cluster.NewClient(cfg.ClusterSocket)
	} else {
		if err := s.loadKeystore(); err != nil {
			if s.listener != nil {
				s.listener.Close()
			}
			return nil, err
		}

		db, err := s.openDatabase()
		if err != nil {
			if s.listener != nil {
				s.listener.Close()
			}
			return nil, err
		}
		s.db = db
	}

	return s, nil
}

// setupPassword loads the enrollment password or mints a random one
func (s *Service) setupPassword() error {
	if !s.cfg.UsePassword {
		log.Logger.Info().Int("port", s.cfg.Port).Msg("Accepting connections. No password required")
		return nil
	}

	pass, err := auth.LoadPassword(s.cfg.PasswordPath())
	if err != nil {
		return err
	}
	if pass != "" {
		log.Logger.Info().Int("port", s.cfg.Port).Str("file", s.cfg.PasswordPath()).
			Msg("Accepting connections. Using password specified on file")
		s.password = pass
		return nil
	}

	pass, err = auth.GeneratePassword()
	if err != nil {
		return fmt.Errorf("unable to generate random password: %w", err)
	}
	log.Logger.Info().Int("port", s.cfg.Port).Str("password", pass).
		Msg("Accepting connections. Random password chosen for agent authentication")
	s.password = pass
	return nil
}

// loadKeystore touches and loads the key and timestamp files. Master only.
func (s *Service) loadKeystore() error {
	path := s.cfg.KeysPath()
	if err := keystore.Touch(path); err != nil {
		return err
	}
	if err := s.keys.Load(path, s.cfg.ClearRemoved); err != nil {
		return err
	}
	if err := s.keys.LoadTimestamps(s.cfg.TimestampPath()); err != nil {
		return err
	}
	metrics.AgentsTotal.Set(float64(s.keys.LiveCount()))
	return nil
}

// openDatabase connects the agents database sidecar: an external socket
// when configured, the embedded database otherwise.
func (s *Service) openDatabase() (agentdb.Client, error) {
	if s.cfg.AgentDBSocket != "" {
		return agentdb.NewSocketClient(s.cfg.AgentDBSocket), nil
	}
	return agentdb.NewBoltClient(s.cfg.DataDir)
}

// Broker exposes the event broker for subscribers
func (s *Service) Broker() *events.Broker {
	return s.broker
}

// Running reports whether the service is accepting work
func (s *Service) Running() bool {
	return s.running.Load()
}

// Addr returns the bound listener address, or nil when remote enrollment
// is disabled.
func (s *Service) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start spawns the stages appropriate for this node's role
func (s *Service) Start() {
	s.running.Store(true)
	s.broker.Start()

	if s.cfg.RemoteEnrollment {
		s.stageWg.Add(2)
		go s.runAccept()
		go s.runDispatcher()
	} else {
		log.Logger.Info().Int("port", s.cfg.Port).Msg("Port was set as disabled")
	}

	// Worker nodes never mutate the local keystore and run no writer
	if !s.cfg.WorkerNode {
		s.writerWg.Add(1)
		go s.runWriter()
	}
}

// Shutdown clears the running flag and joins the stages: accept and
// dispatch first, then the writer after one condition kick so it drains
// and observes the flag.
func (s *Service) Shutdown() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	s.stageWg.Wait()

	if !s.cfg.WorkerNode {
		s.keys.Kick()
		s.writerWg.Wait()
		if err := s.db.Close(); err != nil {
			log.Errorf("failed to close agents database", err)
		}
	}

	s.broker.Stop()
	log.Info("Exiting...")
}
