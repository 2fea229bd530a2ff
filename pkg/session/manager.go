package session

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/example/printshop/pkg/order"
	"github.com/example/printshop/pkg/slicer"
	"github.com/example/printshop/pkg/workflow"
	"go.uber.org/zap"
)

var ErrUnexpectedReply = errors.New("unexpected reply from session actor")

type Config struct {
	RequestTimeout time.Duration
	OpTimeout      time.Duration
	// IdleTimeout stops a session's actor after this long without a request. Zero keeps actors
	// until Close or Shutdown. Saved files survive in the metadata store.
	IdleTimeout time.Duration
}

// Manager spawns session actors on first use and routes requests to them.
type Manager struct {
	system       *actor.ActorSystem
	assembler    *order.Assembler
	coupons      workflow.Coupons
	orchestrator *slicer.Orchestrator
	cfg          Config
	logger       *zap.Logger

	mu       sync.Mutex
	sessions map[string]*actor.PID
	spawned  uint64
}

// NewManager returns a Manager whose actors share the given assembler, coupon source and slicing
// orchestrator. Zero timeouts in cfg fall back to 30s per request and 20s per store operation.
func NewManager(system *actor.ActorSystem, assembler *order.Assembler, coupons workflow.Coupons, orch *slicer.Orchestrator, cfg Config, logger *zap.Logger) *Manager {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 20 * time.Second
	}
	return &Manager{
		system:       system,
		assembler:    assembler,
		coupons:      coupons,
		orchestrator: orch,
		cfg:          cfg,
		logger:       logger.Named("session"),
		sessions:     make(map[string]*actor.PID),
	}
}

func (m *Manager) pid(sessionID string) (*actor.PID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pid, ok := m.sessions[sessionID]; ok {
		return pid, nil
	}

	props := actor.PropsFromProducer(func() actor.Actor {
		return &sessionActor{
			id:           sessionID,
			assembler:    m.assembler,
			coupons:      m.coupons,
			orchestrator: m.orchestrator,
			opTimeout:    m.cfg.OpTimeout,
			idleTimeout:  m.cfg.IdleTimeout,
			evict:        func(pid *actor.PID) { m.forget(sessionID, pid) },
			logger:       m.logger.With(zap.String("session", sessionID)),
		}
	})
	// An evicted actor may still hold its name while it stops, so every spawn gets a fresh one.
	m.spawned++
	pid, err := m.system.Root.SpawnNamed(props, "session-"+sessionID+"-"+strconv.FormatUint(m.spawned, 10))
	if err != nil {
		return nil, fmt.Errorf("failed to spawn session actor: %w", err)
	}
	m.sessions[sessionID] = pid
	return pid, nil
}

// forget drops the session's entry if it still points at pid.
func (m *Manager) forget(sessionID string, pid *actor.PID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.sessions[sessionID]; ok && cur.Equal(pid) {
		delete(m.sessions, sessionID)
	}
}

// Request sends msg to the session's actor, spawning it if needed, and waits for its reply. A
// non-nil workflow error is returned both in the reply and as the error.
func (m *Manager) Request(sessionID string, msg interface{}) (*Reply, error) {
	pid, err := m.pid(sessionID)
	if err != nil {
		return nil, err
	}

	res, err := m.system.Root.RequestFuture(pid, msg, m.cfg.RequestTimeout).Result()
	if errors.Is(err, actor.ErrDeadLetter) {
		// the actor went idle between lookup and delivery
		m.forget(sessionID, pid)
		if pid, err = m.pid(sessionID); err != nil {
			return nil, err
		}
		res, err = m.system.Root.RequestFuture(pid, msg, m.cfg.RequestTimeout).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	reply, ok := res.(*Reply)
	if !ok {
		return nil, ErrUnexpectedReply
	}
	return reply, reply.Err
}

// Close stops a session's actor; a later request starts a fresh one restored from the metadata
// store.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	pid, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if ok {
		_ = m.system.Root.StopFuture(pid).Wait()
	}
}

// Len reports how many session actors are live.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown stops every session actor and waits for them to finish.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	pids := make([]*actor.PID, 0, len(m.sessions))
	for _, pid := range m.sessions {
		pids = append(pids, pid)
	}
	m.sessions = make(map[string]*actor.PID)
	m.mu.Unlock()

	for _, pid := range pids {
		_ = m.system.Root.StopFuture(pid).Wait()
	}
	m.logger.Info("Sessions stopped", zap.Int("count", len(pids)))
}
