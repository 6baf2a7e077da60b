package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/adam314315/rossbackend-sub000/internal/logger"
	"github.com/adam314315/rossbackend-sub000/internal/repos"
	"github.com/adam314315/rossbackend-sub000/internal/strategies"
	"github.com/adam314315/rossbackend-sub000/internal/types"
)

// ScanService drives the configured scan strategy for each file-info slot of
// a chain and registers unseen files in bounded batches.
type ScanService struct {
	db        *gorm.DB
	log       *logger.Logger
	files     repos.AcquisitionFileRepo
	fileInfos repos.FileInfoRepo
	chains    repos.ChainRepo
	registry  *strategies.Registry
	batchSize int
}

// ScanReport summarizes one scan pass across all slots of a chain.
type ScanReport struct {
	SlotsScanned    int
	FilesDiscovered int
	FilesRegistered int
	Blockers        []string
}

func NewScanService(db *gorm.DB, baseLog *logger.Logger, files repos.AcquisitionFileRepo, fileInfos repos.FileInfoRepo, chains repos.ChainRepo, registry *strategies.Registry, batchSize int) *ScanService {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ScanService{
		db:        db,
		log:       baseLog.With("service", "ScanService"),
		files:     files,
		fileInfos: fileInfos,
		chains:    chains,
		registry:  registry,
		batchSize: batchSize,
	}
}

// ScanAndRegister runs one scan pass. A strategy-level failure is fatal for
// its slot only: it is recorded as an execution blocker on the chain and the
// remaining slots still get scanned.
func (s *ScanService) ScanAndRegister(ctx context.Context, chain *types.ProcessingChain, session string) (*ScanReport, error) {
	if chain == nil {
		return nil, fmt.Errorf("missing chain")
	}
	report := &ScanReport{}
	for _, slot := range chain.FileInfos {
		report.SlotsScanned++

		strat, ok := s.registry.Scan(slot.ScanStrategy)
		if !ok {
			blocker := fmt.Sprintf("scan strategy %q not registered for file_info %s", slot.ScanStrategy, slot.ID)
			s.blockSlot(ctx, chain, report, blocker)
			continue
		}

		candidates, newWatermark, err := strat.Scan(ctx, slot.ScanDirectory, slot.LastModificationDate)
		if err != nil {
			blocker := fmt.Sprintf("scan of %s failed: %v", slot.ScanDirectory, err)
			s.blockSlot(ctx, chain, report, blocker)
			continue
		}
		report.FilesDiscovered += len(candidates)

		registered, err := s.RegisterFiles(ctx, chain, slot, candidates)
		report.FilesRegistered += registered
		if err != nil {
			blocker := fmt.Sprintf("registration for %s failed: %v", slot.ScanDirectory, err)
			s.blockSlot(ctx, chain, report, blocker)
			continue
		}

		// The watermark only moves once every discovered file is durable, so
		// a crash mid-slot re-discovers instead of skipping.
		if newWatermark != nil {
			if err := s.fileInfos.UpdateWatermark(ctx, nil, slot.ID, *newWatermark); err != nil {
				s.log.Warn("Failed to advance watermark", "file_info_id", slot.ID, "error", err)
			}
		}

		s.log.Info("Scanned file_info slot",
			"chain", chain.Label,
			"directory", slot.ScanDirectory,
			"discovered", len(candidates),
			"registered", registered,
		)
	}
	return report, nil
}

func (s *ScanService) blockSlot(ctx context.Context, chain *types.ProcessingChain, report *ScanReport, blocker string) {
	s.log.Error("Scan pass blocked", "chain", chain.Label, "blocker", blocker)
	report.Blockers = append(report.Blockers, blocker)
	if err := s.chains.AppendBlocker(ctx, nil, chain.ID, blocker); err != nil {
		s.log.Error("Failed to record execution blocker", "chain_id", chain.ID, "error", err)
	}
}

// RegisterFiles drains the candidate sequence through RegisterFilesBatch
// until exhaustion, returning the number of newly registered files.
func (s *ScanService) RegisterFiles(ctx context.Context, chain *types.ProcessingChain, slot *types.FileInfo, candidates []strategies.Candidate) (int, error) {
	total := 0
	cursor := 0
	for cursor < len(candidates) {
		registered, next, err := s.RegisterFilesBatch(ctx, chain, slot, candidates, cursor)
		total += registered
		if err != nil {
			return total, err
		}
		cursor = next
	}
	return total, nil
}

// RegisterFilesBatch commits at most batchSize files in one transaction and
// returns the continuation cursor. Progress made here survives a crash of the
// surrounding scan.
func (s *ScanService) RegisterFilesBatch(ctx context.Context, chain *types.ProcessingChain, slot *types.FileInfo, candidates []strategies.Candidate, cursor int) (int, int, error) {
	if cursor >= len(candidates) {
		return 0, cursor, nil
	}
	end := cursor + s.batchSize
	if end > len(candidates) {
		end = len(candidates)
	}
	page := candidates[cursor:end]

	registered := 0
	err := withTx(s.db, func(tx *gorm.DB) error {
		paths := make([]string, 0, len(page))
		for _, c := range page {
			paths = append(paths, c.Path)
		}
		known, err := s.files.GetKnownPaths(ctx, tx, slot.ID, paths)
		if err != nil {
			return err
		}
		var newFiles []*types.AcquisitionFile
		for _, c := range page {
			if known[c.Path] {
				continue
			}
			newFiles = append(newFiles, &types.AcquisitionFile{
				FileInfoID:      slot.ID,
				ChainID:         chain.ID,
				FilePath:        c.Path,
				State:           types.FileStateInProgress,
				SizeBytes:       c.SizeBytes,
				AcquisitionDate: c.LastModified,
			})
		}
		created, err := s.files.CreateBatch(ctx, tx, newFiles)
		if err != nil {
			return err
		}
		registered = len(created)
		return nil
	})
	if err != nil {
		return 0, cursor, err
	}
	return registered, end, nil
}
