package foreman

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// AgentCreate is the payload for registering an agent.
type AgentCreate struct {
	Name         string    `json:"name"`
	Role         AgentRole `json:"role"`
	SystemPrompt string    `json:"system_prompt"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
}

// AgentUpdate carries partial updates; nil fields are left unchanged.
type AgentUpdate struct {
	Name         *string `json:"name"`
	SystemPrompt *string `json:"system_prompt"`
	Provider     *string `json:"provider"`
	Model        *string `json:"model"`
}

// AgentService owns agent CRUD and the per-agent status mutex. All status
// transitions go through SetStatus so concurrent dispatches cannot interleave
// writes to the same agent.
type AgentService struct {
	repo   AgentRepository
	bus    *EventBus
	locks  *keyedMutex
	logger *slog.Logger
}

// NewAgentService creates the service. logger may be nil.
func NewAgentService(repo AgentRepository, bus *EventBus, logger *slog.Logger) *AgentService {
	if logger == nil {
		logger = nopLogger
	}
	return &AgentService{repo: repo, bus: bus, locks: newKeyedMutex(), logger: logger}
}

// Create validates and persists a new agent in status idle.
func (s *AgentService) Create(ctx context.Context, in AgentCreate) (*Agent, error) {
	name := norm.NFC.String(strings.TrimSpace(in.Name))
	if name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if in.Role != RoleWorker && in.Role != RoleSupervisor {
		return nil, fmt.Errorf("invalid agent role %q", in.Role)
	}
	a := &Agent{
		ID:           NewID(),
		Name:         name,
		Role:         in.Role,
		SystemPrompt: norm.NFC.String(in.SystemPrompt),
		Provider:     in.Provider,
		Model:        in.Model,
		Status:       AgentIdle,
		CreatedAt:    NowUnix(),
	}
	if err := s.repo.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("save agent: %w", err)
	}
	s.publish(AgentUpdateEvent(a))
	return a, nil
}

// Get returns the agent or ErrNotFound.
func (s *AgentService) Get(ctx context.Context, id string) (*Agent, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of agents.
func (s *AgentService) List(ctx context.Context, skip, limit int) ([]Agent, error) {
	return s.repo.List(ctx, skip, limit)
}

// Update applies a partial update under the agent's lock.
func (s *AgentService) Update(ctx context.Context, id string, in AgentUpdate) (*Agent, error) {
	lock := s.locks.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		a.Name = norm.NFC.String(strings.TrimSpace(*in.Name))
	}
	if in.SystemPrompt != nil {
		a.SystemPrompt = norm.NFC.String(*in.SystemPrompt)
	}
	if in.Provider != nil {
		a.Provider = *in.Provider
	}
	if in.Model != nil {
		a.Model = *in.Model
	}
	if err := s.repo.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("save agent: %w", err)
	}
	s.publish(AgentUpdateEvent(a))
	return a, nil
}

// Delete removes the agent. Historical worker outputs keep their denormalized
// agent name, so no cascade is needed.
func (s *AgentService) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

// Count returns the total number of agents.
func (s *AgentService) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

// SetStatus transitions the agent's status under its lock and emits an
// agent_update event. The error paths in dispatch rely on this always
// leaving a consistent value behind.
func (s *AgentService) SetStatus(ctx context.Context, id string, status AgentStatus) error {
	lock := s.locks.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status == status {
		return nil
	}
	a.Status = status
	if err := s.repo.Save(ctx, a); err != nil {
		return fmt.Errorf("save agent status: %w", err)
	}
	s.publish(AgentUpdateEvent(a))
	return nil
}

func (s *AgentService) publish(ev Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}
