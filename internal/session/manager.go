package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mcpdap/internal/adapters"
	"mcpdap/internal/dap"
)

// Manager owns every live session and the adapter registry they are
// created from.
type Manager struct {
	registry *adapters.Registry
	log      *zap.Logger

	mu        sync.Mutex
	sessions  map[string]*Session
	callbacks []EventCallback
}

// NewManager builds a manager over a registry. A nil logger disables
// logging.
func NewManager(registry *adapters.Registry, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		registry: registry,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// Registry returns the adapter registry.
func (m *Manager) Registry() *adapters.Registry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry
}

// SetRegistry swaps the registry used for future sessions. Live
// sessions keep the adapters they were created with.
func (m *Manager) SetRegistry(registry *adapters.Registry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry = registry
}

// CreateOptions selects the adapter and connection shape for a new
// session. Host and Port are set for attach-style transports; SessionID
// is generated when empty.
type CreateOptions struct {
	Adapter   string
	Dir       string
	Env       []string
	Host      string
	Port      int
	SessionID string
}

// Create spawns or dials the adapter, negotiates capabilities, and
// registers the new session.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*Session, error) {
	adapter, err := m.Registry().Resolve(opts.Adapter)
	if err != nil {
		return nil, err
	}

	id := opts.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	if _, taken := m.sessions[id]; taken {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	}
	callbacks := append([]EventCallback(nil), m.callbacks...)
	m.mu.Unlock()

	transport, err := adapter.CreateTransport(adapters.TransportSpec{
		Dir:  opts.Dir,
		Env:  opts.Env,
		Host: opts.Host,
		Port: opts.Port,
	})
	if err != nil {
		return nil, err
	}

	client := dap.NewClient(transport, adapter.ID())
	sess := New(id, adapter, client, m.log)
	for _, cb := range callbacks {
		sess.AddEventCallback(cb)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s adapter: %w", adapter.Name(), err)
	}
	if _, err := sess.Initialize(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("initialize %s adapter: %w", adapter.Name(), err)
	}

	m.mu.Lock()
	if _, taken := m.sessions[id]; taken {
		m.mu.Unlock()
		client.Close()
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	}
	m.sessions[id] = sess
	m.mu.Unlock()

	m.log.Info("session created",
		zap.String("session_id", id),
		zap.String("adapter", adapter.Name()))
	return sess, nil
}

// Get looks up a session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, nil
}

// Close disconnects one session and removes it. Closing an unknown id
// returns ErrNotFound.
func (m *Manager) Close(ctx context.Context, id string, terminate bool) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	err := sess.Disconnect(ctx, terminate)
	m.log.Info("session closed", zap.String("session_id", id))
	return err
}

// CloseAll disconnects every session concurrently, returning the first
// error.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, sess := range sessions {
		sess := sess
		g.Go(func() error {
			return sess.Disconnect(ctx, true)
		})
	}
	return g.Wait()
}

// List summarizes every session, ordered by id for stable output.
func (m *Manager) List() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].SessionID < infos[j].SessionID })
	return infos
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// AddEventCallback observes events from every current and future session.
func (m *Manager) AddEventCallback(cb EventCallback) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, cb)
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.AddEventCallback(cb)
	}
}
