package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/adam314315/rossbackend-sub000/internal/logger"
	"github.com/adam314315/rossbackend-sub000/internal/repos"
	"github.com/adam314315/rossbackend-sub000/internal/strategies"
	"github.com/adam314315/rossbackend-sub000/internal/types"
)

// AssemblyService drains newly registered files into products page by page:
// validate, name, link, re-evaluate completeness, schedule generation.
type AssemblyService struct {
	db       *gorm.DB
	log      *logger.Logger
	files    repos.AcquisitionFileRepo
	products repos.ProductRepo
	jobRuns  repos.JobRunRepo
	registry *strategies.Registry
	pageSize int
}

func NewAssemblyService(db *gorm.DB, baseLog *logger.Logger, files repos.AcquisitionFileRepo, products repos.ProductRepo, jobRuns repos.JobRunRepo, registry *strategies.Registry, pageSize int) *AssemblyService {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &AssemblyService{
		db:       db,
		log:      baseLog.With("service", "AssemblyService"),
		files:    files,
		products: products,
		jobRuns:  jobRuns,
		registry: registry,
		pageSize: pageSize,
	}
}

// ManageRegisteredFiles pages until no pending files remain. Returns the
// number of files processed.
func (s *AssemblyService) ManageRegisteredFiles(ctx context.Context, chain *types.ProcessingChain, session string) (int, error) {
	total := 0
	for {
		processed, more, err := s.ManageRegisteredFilesByPage(ctx, chain, session)
		total += processed
		if err != nil {
			return total, err
		}
		if !more {
			return total, nil
		}
	}
}

// ManageRegisteredFilesByPage handles one bounded page inside one
// transaction and reports whether more work remains.
func (s *AssemblyService) ManageRegisteredFilesByPage(ctx context.Context, chain *types.ProcessingChain, session string) (int, bool, error) {
	if chain == nil {
		return 0, false, fmt.Errorf("missing chain")
	}
	naming, ok := s.registry.Naming(chain.ProductStrategy)
	if !ok {
		return 0, false, fmt.Errorf("naming strategy %q not registered", chain.ProductStrategy)
	}
	var validation strategies.ValidationStrategy
	if chain.ValidationStrategy != "" {
		validation, ok = s.registry.Validation(chain.ValidationStrategy)
		if !ok {
			return 0, false, fmt.Errorf("validation strategy %q not registered", chain.ValidationStrategy)
		}
	}

	processed := 0
	more := false
	err := withTx(s.db, func(tx *gorm.DB) error {
		page, err := s.files.GetPageByStates(ctx, tx, chain.ID, []string{types.FileStateInProgress, types.FileStateValid}, s.pageSize)
		if err != nil {
			return err
		}
		more = len(page) == s.pageSize
		touched := map[uuid.UUID]bool{}

		for _, file := range page {
			processed++

			if file.State == types.FileStateInProgress && validation != nil {
				if vErr := validation.Validate(file.FilePath); vErr != nil {
					// File-level error: recorded on the file, never fatal to
					// the page.
					if uErr := s.files.UpdateState(ctx, tx, file.ID, types.FileStateInvalid, vErr.Error()); uErr != nil {
						return uErr
					}
					continue
				}
			}

			name, nErr := naming.ProductName(file)
			if nErr != nil {
				if uErr := s.files.UpdateState(ctx, tx, file.ID, types.FileStateError, nErr.Error()); uErr != nil {
					return uErr
				}
				continue
			}

			product, err := s.products.GetByName(ctx, tx, chain.ID, name)
			if err != nil {
				return err
			}
			if product == nil {
				created, cErr := s.products.Create(ctx, tx, []*types.Product{{
					ChainID:     chain.ID,
					ProductName: name,
					Session:     session,
					State:       types.ProductStateAcquiring,
				}})
				if cErr != nil {
					return cErr
				}
				product = created[0]
			}

			if err := s.files.Acquire(ctx, tx, file.ID, product.ID); err != nil {
				return err
			}
			// A file landing on a product that already left the acquisition
			// phase flags it for re-evaluation outside the normal flow.
			if product.SIPState != types.SIPStateNotScheduled {
				if err := s.products.UpdateFields(ctx, tx, product.ID, map[string]interface{}{
					"state": types.ProductStateUpdated,
				}); err != nil {
					return err
				}
			}
			touched[product.ID] = true
		}

		for productID := range touched {
			if _, err := s.evaluateProduct(ctx, tx, chain, productID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return processed, false, err
	}
	return processed, more, nil
}

// ManageUpdatedProducts re-evaluates products whose file set changed outside
// the normal scan flow, rescheduling generation as needed. Returns the number
// of newly scheduled products.
func (s *AssemblyService) ManageUpdatedProducts(ctx context.Context, chain *types.ProcessingChain) (int, error) {
	total := 0
	for {
		scheduled, more, err := s.ManageUpdatedProductsByPage(ctx, chain)
		total += scheduled
		if err != nil {
			return total, err
		}
		if !more {
			return total, nil
		}
	}
}

func (s *AssemblyService) ManageUpdatedProductsByPage(ctx context.Context, chain *types.ProcessingChain) (int, bool, error) {
	if chain == nil {
		return 0, false, fmt.Errorf("missing chain")
	}
	scheduled := 0
	more := false
	err := withTx(s.db, func(tx *gorm.DB) error {
		page, err := s.products.GetPageByStates(ctx, tx, chain.ID, []string{types.ProductStateUpdated}, s.pageSize)
		if err != nil {
			return err
		}
		more = len(page) == s.pageSize
		for _, product := range page {
			wasScheduled, err := s.evaluateProduct(ctx, tx, chain, product.ID)
			if err != nil {
				return err
			}
			if wasScheduled {
				scheduled++
			}
		}
		return nil
	})
	if err != nil {
		return scheduled, false, err
	}
	return scheduled, more, nil
}

// evaluateProduct recomputes completeness and schedules generation when every
// mandatory slot has at least one acquired file. Reports whether a new
// generation job was scheduled.
func (s *AssemblyService) evaluateProduct(ctx context.Context, tx *gorm.DB, chain *types.ProcessingChain, productID uuid.UUID) (bool, error) {
	counts, err := s.files.CountAcquiredByFileInfo(ctx, tx, productID)
	if err != nil {
		return false, err
	}
	complete := true
	allSlots := len(chain.FileInfos) > 0
	for _, slot := range chain.FileInfos {
		if counts[slot.ID] == 0 {
			allSlots = false
			if slot.Mandatory {
				complete = false
			}
		}
	}

	state := types.ProductStateAcquiring
	if complete {
		state = types.ProductStateCompleted
	}
	if complete && allSlots {
		state = types.ProductStateFinished
	}
	if err := s.products.UpdateFields(ctx, tx, productID, map[string]interface{}{"state": state}); err != nil {
		return false, err
	}
	if !complete {
		return false, nil
	}
	return s.scheduleGeneration(ctx, tx, chain, productID)
}

// scheduleGeneration is the single-issue gate: the not-scheduled -> scheduled
// transition only succeeds once, so a product never has two generation jobs
// in flight.
func (s *AssemblyService) scheduleGeneration(ctx context.Context, tx *gorm.DB, chain *types.ProcessingChain, productID uuid.UUID) (bool, error) {
	won, err := s.products.TransitSIPState(ctx, tx, productID, []string{types.SIPStateNotScheduled}, types.SIPStateScheduled, nil)
	if err != nil || !won {
		return false, err
	}

	payload, err := json.Marshal(map[string]any{
		"product_id": productID.String(),
		"chain_id":   chain.ID.String(),
	})
	if err != nil {
		return false, err
	}
	created, err := s.jobRuns.Create(ctx, tx, []*types.JobRun{{
		ChainID: chain.ID,
		JobType: types.JobTypeSIPGeneration,
		Status:  types.JobStatusQueued,
		Payload: datatypes.JSON(payload),
	}})
	if err != nil {
		return false, err
	}
	if err := s.products.UpdateFields(ctx, tx, productID, map[string]interface{}{
		"last_sip_generation_job_id": created[0].ID,
	}); err != nil {
		return false, err
	}
	s.log.Debug("Scheduled SIP generation", "chain", chain.Label, "product_id", productID, "job_id", created[0].ID)
	return true, nil
}
