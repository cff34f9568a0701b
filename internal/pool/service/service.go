package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"training-lab-control-plane/internal/pool/compute"
	"training-lab-control-plane/internal/pool/domain"
)

var (
	// ErrExhausted means the tier is at max capacity and no instance
	// became available within the assignment wait.
	ErrExhausted = errors.New("pool exhausted")
	// ErrUnknownTier means no pool is configured for the requested tier.
	ErrUnknownTier = errors.New("unknown tier")
)

// Repo is the subset of pool storage the service needs.
type Repo interface {
	GetConfig(ctx context.Context, tier string) (*domain.Config, error)
	ListConfigs(ctx context.Context) ([]*domain.Config, error)
	ClaimWarm(ctx context.Context, tier string) (*domain.Instance, error)
	CountByStatus(ctx context.Context, tier string) (warm, assigned int, err error)
	Insert(ctx context.Context, inst *domain.Instance) error
	ReleaseToWarm(ctx context.Context, instanceID string) (bool, error)
	MarkTerminating(ctx context.Context, instanceID string) (bool, error)
	Remove(ctx context.Context, instanceID string) error
	ListByTier(ctx context.Context, tier string) ([]*domain.Instance, error)
}

// Service manages tiered warm pools of compute instances. Assignment claims
// a warm instance when one exists and otherwise grows the backing compute
// group and waits a bounded interval for capacity to arrive.
type Service struct {
	repo       Repo
	group      compute.Group
	assignWait time.Duration
	probeEvery time.Duration
}

func NewService(repo Repo, group compute.Group, assignWait, probeEvery time.Duration) *Service {
	if assignWait <= 0 {
		assignWait = 30 * time.Second
	}
	if probeEvery <= 0 {
		probeEvery = 2 * time.Second
	}
	return &Service{
		repo:       repo,
		group:      group,
		assignWait: assignWait,
		probeEvery: probeEvery,
	}
}

// Assign claims one instance for exclusive use by a session. A warm instance
// is returned immediately when available. Otherwise, if the tier has headroom,
// the compute group is expanded once and the claim retried until assignWait
// elapses. At max capacity with nothing warm, ErrExhausted is returned.
func (s *Service) Assign(ctx context.Context, tier string) (*domain.Instance, error) {
	cfg, err := s.repo.GetConfig(ctx, tier)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTier, tier)
	}

	inst, err := s.repo.ClaimWarm(ctx, tier)
	if err != nil {
		return nil, err
	}
	if inst != nil {
		return inst, nil
	}

	warm, assigned, err := s.repo.CountByStatus(ctx, tier)
	if err != nil {
		return nil, err
	}
	if warm+assigned >= cfg.MaxSize {
		return nil, fmt.Errorf("%w: tier %s at capacity", ErrExhausted, tier)
	}

	if err := s.group.Expand(ctx, cfg.ComputeGroup, 1); err != nil {
		return nil, fmt.Errorf("expand compute group: %w", err)
	}

	deadline := time.NewTimer(s.assignWait)
	defer deadline.Stop()
	probe := time.NewTicker(s.probeEvery)
	defer probe.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%w: tier %s assignment timed out", ErrExhausted, tier)
		case <-probe.C:
			if err := s.syncTier(ctx, cfg); err != nil {
				log.Printf("[pool] sync tier %s during assign: %v", tier, err)
			}
			inst, err := s.repo.ClaimWarm(ctx, tier)
			if err != nil {
				return nil, err
			}
			if inst != nil {
				return inst, nil
			}
		}
	}
}

// Release returns an instance after its session ends. The instance goes back
// to warm while the tier holds fewer than warm_max_prepared warm instances,
// and is otherwise terminated. Release of an instance that is no longer
// assigned is a no-op, so concurrent reclaim paths stay safe.
func (s *Service) Release(ctx context.Context, tier, instanceID string, forceStop bool) error {
	cfg, err := s.repo.GetConfig(ctx, tier)
	if err != nil {
		return err
	}
	if cfg == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTier, tier)
	}

	if !forceStop {
		warm, _, err := s.repo.CountByStatus(ctx, tier)
		if err != nil {
			return err
		}
		if warm < cfg.WarmMaxPrepared {
			applied, err := s.repo.ReleaseToWarm(ctx, instanceID)
			if err != nil {
				return err
			}
			// Not assigned anymore: another release already handled it.
			_ = applied
			return nil
		}
	}

	applied, err := s.repo.MarkTerminating(ctx, instanceID)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	if err := s.group.Terminate(ctx, instanceID); err != nil {
		return fmt.Errorf("terminate instance %s: %w", instanceID, err)
	}
	return s.repo.Remove(ctx, instanceID)
}

// InstanceHealthy reports whether the provider sees the instance running.
func (s *Service) InstanceHealthy(ctx context.Context, tier, instanceID string) (bool, error) {
	cfg, err := s.repo.GetConfig(ctx, tier)
	if err != nil {
		return false, err
	}
	if cfg == nil {
		return false, fmt.Errorf("%w: %s", ErrUnknownTier, tier)
	}
	members, err := s.group.ListInstances(ctx, cfg.ComputeGroup)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m.ID == instanceID {
			return m.Running, nil
		}
	}
	return false, nil
}

// Sync reconciles every tier's tracked instances with the compute groups and
// tops warm capacity up to warm_min. Run periodically by the sweeper.
func (s *Service) Sync(ctx context.Context) error {
	configs, err := s.repo.ListConfigs(ctx)
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		if err := s.syncTier(ctx, cfg); err != nil {
			log.Printf("[pool] sync tier %s: %v", cfg.Tier, err)
		}
	}
	return nil
}

// syncTier adopts running provider instances the pool does not track yet,
// drops tracked instances the provider no longer reports, and expands the
// group when warm count has fallen under warm_min.
func (s *Service) syncTier(ctx context.Context, cfg *domain.Config) error {
	members, err := s.group.ListInstances(ctx, cfg.ComputeGroup)
	if err != nil {
		return err
	}
	tracked, err := s.repo.ListByTier(ctx, cfg.Tier)
	if err != nil {
		return err
	}

	known := make(map[string]*domain.Instance, len(tracked))
	for _, inst := range tracked {
		known[inst.InstanceID] = inst
	}
	alive := make(map[string]bool, len(members))

	for _, m := range members {
		alive[m.ID] = true
		if !m.Running {
			continue
		}
		if _, ok := known[m.ID]; ok {
			continue
		}
		err := s.repo.Insert(ctx, &domain.Instance{
			Tier:       cfg.Tier,
			InstanceID: m.ID,
			PrivateIP:  m.PrivateIP,
			Status:     domain.InstanceWarm,
		})
		if err != nil {
			return err
		}
	}

	for id := range known {
		if !alive[id] {
			if err := s.repo.Remove(ctx, id); err != nil {
				return err
			}
		}
	}

	warm, _, err := s.repo.CountByStatus(ctx, cfg.Tier)
	if err != nil {
		return err
	}
	if warm < cfg.WarmMin {
		if err := s.group.Expand(ctx, cfg.ComputeGroup, cfg.WarmMin-warm); err != nil {
			return err
		}
	}
	return nil
}
