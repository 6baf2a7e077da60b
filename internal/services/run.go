package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/adam314315/rossbackend-sub000/internal/logger"
	"github.com/adam314315/rossbackend-sub000/internal/repos"
	"github.com/adam314315/rossbackend-sub000/internal/types"
)

// RunService owns the per-chain run lifecycle: the exclusivity lock,
// start/stop/abort, and interrupted-job recovery.
type RunService struct {
	db       *gorm.DB
	log      *logger.Logger
	chains   repos.ChainRepo
	products repos.ProductRepo
	jobRuns  repos.JobRunRepo
	pageSize int

	StopPollInterval time.Duration
	StopTimeout      time.Duration
}

func NewRunService(db *gorm.DB, baseLog *logger.Logger, chains repos.ChainRepo, products repos.ProductRepo, jobRuns repos.JobRunRepo, pageSize int) *RunService {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &RunService{
		db:               db,
		log:              baseLog.With("service", "RunService"),
		chains:           chains,
		products:         products,
		jobRuns:          jobRuns,
		pageSize:         pageSize,
		StopPollInterval: 2 * time.Second,
		StopTimeout:      5 * time.Minute,
	}
}

// StartManualChain starts one run of the chain. A request on a locked chain
// is rejected with ErrChainLocked, never queued.
func (s *RunService) StartManualChain(ctx context.Context, chainID uuid.UUID, session string, onlyErrors bool) (*types.JobRun, error) {
	chain, err := s.chains.GetByID(ctx, nil, chainID)
	if err != nil {
		return nil, err
	}
	if chain == nil {
		return nil, ErrChainNotFound
	}
	// Blockers gate automatic starts only. An operator start is the recovery
	// path after a failed run, so it clears them and proceeds.
	if hasExecutionBlockers(chain) {
		if err := s.chains.ClearBlockers(ctx, nil, chain.ID); err != nil {
			return nil, err
		}
		chain.ExecutionBlockers = nil
	}
	return s.start(ctx, chain, session, onlyErrors)
}

func hasExecutionBlockers(chain *types.ProcessingChain) bool {
	raw := string(chain.ExecutionBlockers)
	return len(raw) > 0 && raw != "null" && raw != "[]"
}

func (s *RunService) start(ctx context.Context, chain *types.ProcessingChain, session string, onlyErrors bool) (*types.JobRun, error) {
	if !chain.Active {
		return nil, ErrChainInactive
	}
	if session == "" {
		session = chain.Session
	}
	if session == "" {
		session = time.Now().Format("20060102")
	}

	now := time.Now()
	locked, err := s.chains.TryLock(ctx, nil, chain.ID, now)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, ErrChainLocked
	}

	payload, err := json.Marshal(map[string]any{
		"chain_id":    chain.ID.String(),
		"session":     session,
		"only_errors": onlyErrors,
	})
	if err != nil {
		_ = s.chains.Unlock(ctx, nil, chain.ID)
		return nil, err
	}
	created, err := s.jobRuns.Create(ctx, nil, []*types.JobRun{{
		ChainID: chain.ID,
		JobType: types.JobTypeProductAcquisition,
		Status:  types.JobStatusQueued,
		Payload: datatypes.JSON(payload),
	}})
	if err != nil {
		// Nothing will ever unlock the chain if the job never existed.
		_ = s.chains.Unlock(ctx, nil, chain.ID)
		return nil, err
	}
	s.log.Info("Started chain run", "chain", chain.Label, "session", session, "only_errors", onlyErrors, "job_id", created[0].ID)
	return created[0], nil
}

// StartAutomaticChains starts every auto, active, unlocked, blocker-free
// chain whose cron periodicity elapsed in (lastCheck, now]. Returns the
// number of started chains.
func (s *RunService) StartAutomaticChains(ctx context.Context, lastCheck, now time.Time) (int, error) {
	chains, err := s.chains.ListAutoActive(ctx, nil)
	if err != nil {
		return 0, err
	}

	var mu sync.Mutex
	started := 0
	g, gctx := errgroup.WithContext(ctx)
	for _, chain := range chains {
		chain := chain
		if chain.Locked {
			continue
		}
		if hasExecutionBlockers(chain) {
			s.log.Debug("Skipped automatic start", "chain", chain.Label, "reason", ErrChainBlocked)
			continue
		}
		g.Go(func() error {
			schedule, err := cron.ParseStandard(chain.Periodicity)
			if err != nil {
				s.log.Warn("Invalid chain periodicity", "chain", chain.Label, "periodicity", chain.Periodicity, "error", err)
				return nil
			}
			// Anchor on the later of lastCheck and the previous activation so
			// a freshly run chain does not re-fire inside the same window.
			anchor := lastCheck
			if chain.LastActivationDate != nil && chain.LastActivationDate.After(anchor) {
				anchor = *chain.LastActivationDate
			}
			if schedule.Next(anchor).After(now) {
				return nil
			}
			_, err = s.start(gctx, chain, "", false)
			switch err {
			case nil:
				mu.Lock()
				started++
				mu.Unlock()
			case ErrChainLocked, ErrChainInactive:
				// Lost the race or not startable; the next tick retries.
				s.log.Debug("Skipped automatic start", "chain", chain.Label, "reason", err)
			default:
				return fmt.Errorf("automatic start of %s: %w", chain.Label, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return started, err
	}
	return started, nil
}

// StopChainJobs signals the job runtime to abort every job tied to the
// chain. Best-effort and non-blocking; running handlers observe the flag at
// page boundaries.
func (s *RunService) StopChainJobs(ctx context.Context, chainID uuid.UUID) error {
	flagged, err := s.jobRuns.MarkAbortRequestedByChain(ctx, nil, chainID)
	if err != nil {
		return err
	}
	s.log.Info("Requested abort of chain jobs", "chain_id", chainID, "flagged", flagged)
	return nil
}

// IsChainJobStoppedAndCleaned reports whether every job of the chain reached
// a terminal status and no product is left mid-generation.
func (s *RunService) IsChainJobStoppedAndCleaned(ctx context.Context, chainID uuid.UUID) (bool, error) {
	running, err := s.jobRuns.CountNonTerminalByChain(ctx, nil, chainID)
	if err != nil {
		return false, err
	}
	if running > 0 {
		return false, nil
	}
	inFlight, err := s.products.CountBySIPStates(ctx, nil, chainID, "", []string{types.SIPStateScheduled})
	if err != nil {
		return false, err
	}
	return inFlight == 0, nil
}

// StopAndCleanChain aborts the chain's jobs, waits for them to terminate,
// rolls interrupted products over, then releases the lock and deactivates
// the chain.
func (s *RunService) StopAndCleanChain(ctx context.Context, chainID uuid.UUID) error {
	if err := s.StopChainJobs(ctx, chainID); err != nil {
		return err
	}

	deadline := time.Now().Add(s.StopTimeout)
	for {
		running, err := s.jobRuns.CountNonTerminalByChain(ctx, nil, chainID)
		if err != nil {
			return err
		}
		if running == 0 {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("chain %s still has %d non-terminal jobs after %s", chainID, running, s.StopTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.StopPollInterval):
		}
	}

	if err := s.rollInterrupted(ctx, chainID); err != nil {
		return err
	}

	if err := s.chains.UpdateFields(ctx, nil, chainID, map[string]interface{}{
		"locked": false,
		"active": false,
	}); err != nil {
		return err
	}
	s.log.Info("Chain stopped and cleaned", "chain_id", chainID)
	return nil
}

// rollInterrupted marks every product abandoned mid-generation as
// interrupted so the next run resumes it.
func (s *RunService) rollInterrupted(ctx context.Context, chainID uuid.UUID) error {
	for {
		var page []*types.Product
		err := withTx(s.db, func(tx *gorm.DB) error {
			var err error
			page, err = s.products.GetPageBySIPStates(ctx, tx, chainID, "", []string{types.SIPStateScheduled}, s.pageSize, 0)
			if err != nil {
				return err
			}
			for _, product := range page {
				if _, err := s.products.TransitSIPState(ctx, tx, product.ID, []string{types.SIPStateScheduled}, types.SIPStateScheduledInterrupted, nil); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if len(page) < s.pageSize {
			return nil
		}
	}
}

// RestartInterruptedJobs re-submits generation for every interrupted product
// of the chain. This is the resumability path after an abrupt stop or crash.
func (s *RunService) RestartInterruptedJobs(ctx context.Context, chain *types.ProcessingChain) (int, error) {
	if chain == nil {
		return 0, fmt.Errorf("missing chain")
	}
	restarted := 0
	for {
		var page []*types.Product
		err := withTx(s.db, func(tx *gorm.DB) error {
			var err error
			page, err = s.products.GetPageBySIPStates(ctx, tx, chain.ID, "", []string{types.SIPStateScheduledInterrupted}, s.pageSize, 0)
			if err != nil {
				return err
			}
			for _, product := range page {
				won, err := s.products.TransitSIPState(ctx, tx, product.ID, []string{types.SIPStateScheduledInterrupted}, types.SIPStateScheduled, nil)
				if err != nil {
					return err
				}
				if !won {
					continue
				}
				payload, err := json.Marshal(map[string]any{
					"product_id": product.ID.String(),
					"chain_id":   chain.ID.String(),
				})
				if err != nil {
					return err
				}
				created, err := s.jobRuns.Create(ctx, tx, []*types.JobRun{{
					ChainID: chain.ID,
					JobType: types.JobTypeSIPGeneration,
					Status:  types.JobStatusQueued,
					Payload: datatypes.JSON(payload),
				}})
				if err != nil {
					return err
				}
				if err := s.products.UpdateFields(ctx, tx, product.ID, map[string]interface{}{
					"last_sip_generation_job_id": created[0].ID,
				}); err != nil {
					return err
				}
				restarted++
			}
			return nil
		})
		if err != nil {
			return restarted, err
		}
		if len(page) < s.pageSize {
			break
		}
	}
	if restarted > 0 {
		s.log.Info("Restarted interrupted generations", "chain", chain.Label, "count", restarted)
	}
	return restarted, nil
}

// FinishChainRun releases the lock once the acquisition job for the chain
// reached a terminal status. A failure is recorded as an execution blocker
// first, so the chain stays startable manually but not automatically.
func (s *RunService) FinishChainRun(ctx context.Context, chainID uuid.UUID, errText string) {
	if errText != "" {
		if err := s.chains.AppendBlocker(ctx, nil, chainID, errText); err != nil {
			s.log.Error("Failed to record execution blocker", "chain_id", chainID, "error", err)
		}
	}
	if err := s.chains.Unlock(ctx, nil, chainID); err != nil {
		s.log.Error("Failed to unlock chain", "chain_id", chainID, "error", err)
	}
}

// DeleteChain removes an inactive, unlocked chain that owns no products and
// no running jobs.
func (s *RunService) DeleteChain(ctx context.Context, chainID uuid.UUID) error {
	chain, err := s.chains.GetByID(ctx, nil, chainID)
	if err != nil {
		return err
	}
	if chain == nil {
		return ErrChainNotFound
	}
	if chain.Active || chain.Locked {
		return ErrChainBusy
	}
	running, err := s.jobRuns.CountNonTerminalByChain(ctx, nil, chainID)
	if err != nil {
		return err
	}
	if running > 0 {
		return ErrChainBusy
	}
	remaining, err := s.products.CountByChain(ctx, nil, chainID)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return ErrChainBusy
	}
	return s.chains.Delete(ctx, nil, chainID)
}
