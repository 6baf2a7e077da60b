package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/adam314315/rossbackend-sub000/internal/logger"
	"github.com/adam314315/rossbackend-sub000/internal/strategies"
	"github.com/adam314315/rossbackend-sub000/internal/types"
)

// In-memory repo fakes. Services run with a nil *gorm.DB, so withTx passes
// the callback a nil handle and everything below ignores the tx parameter.

func testLogger() *logger.Logger {
	return &logger.Logger{SugaredLogger: zap.NewNop().Sugar()}
}

type fakeChainRepo struct {
	mu     sync.Mutex
	chains map[uuid.UUID]*types.ProcessingChain
}

func newFakeChainRepo(chains ...*types.ProcessingChain) *fakeChainRepo {
	r := &fakeChainRepo{chains: map[uuid.UUID]*types.ProcessingChain{}}
	for _, c := range chains {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		for _, fi := range c.FileInfos {
			if fi.ID == uuid.Nil {
				fi.ID = uuid.New()
			}
			fi.ChainID = c.ID
		}
		r.chains[c.ID] = c
	}
	return r
}

func (r *fakeChainRepo) Create(ctx context.Context, tx *gorm.DB, chains []*types.ProcessingChain) ([]*types.ProcessingChain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range chains {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		r.chains[c.ID] = c
	}
	return chains, nil
}

func (r *fakeChainRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ProcessingChain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chains[id], nil
}

func (r *fakeChainRepo) GetByLabel(ctx context.Context, tx *gorm.DB, label string) (*types.ProcessingChain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chains {
		if c.Label == label {
			return c, nil
		}
	}
	return nil, nil
}

func (r *fakeChainRepo) ListAutoActive(ctx context.Context, tx *gorm.DB) ([]*types.ProcessingChain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.ProcessingChain
	for _, c := range r.chains {
		if c.Mode == types.ChainModeAuto && c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeChainRepo) TryLock(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chains[id]
	if !ok || c.Locked {
		return false, nil
	}
	c.Locked = true
	t := at
	c.LastActivationDate = &t
	return true, nil
}

func (r *fakeChainRepo) Unlock(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.chains[id]; ok {
		c.Locked = false
	}
	return nil
}

func (r *fakeChainRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chains[id]
	if !ok {
		return nil
	}
	if v, ok := updates["locked"]; ok {
		c.Locked = v.(bool)
	}
	if v, ok := updates["active"]; ok {
		c.Active = v.(bool)
	}
	if v, ok := updates["execution_blockers"]; ok {
		if v == nil {
			c.ExecutionBlockers = nil
		} else {
			c.ExecutionBlockers = v.(datatypes.JSON)
		}
	}
	return nil
}

func (r *fakeChainRepo) AppendBlocker(ctx context.Context, tx *gorm.DB, id uuid.UUID, blocker string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chains[id]
	if !ok {
		return nil
	}
	var blockers []string
	if len(c.ExecutionBlockers) > 0 {
		_ = json.Unmarshal(c.ExecutionBlockers, &blockers)
	}
	blockers = append(blockers, blocker)
	raw, err := json.Marshal(blockers)
	if err != nil {
		return err
	}
	c.ExecutionBlockers = datatypes.JSON(raw)
	return nil
}

func (r *fakeChainRepo) ClearBlockers(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.chains[id]; ok {
		c.ExecutionBlockers = nil
	}
	return nil
}

func (r *fakeChainRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chains, id)
	return nil
}

func (r *fakeChainRepo) blockers(id uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chains[id]
	if !ok || len(c.ExecutionBlockers) == 0 {
		return nil
	}
	var blockers []string
	_ = json.Unmarshal(c.ExecutionBlockers, &blockers)
	return blockers
}

type fakeFileInfoRepo struct {
	mu    sync.Mutex
	slots []*types.FileInfo
}

func newFakeFileInfoRepo(slots ...*types.FileInfo) *fakeFileInfoRepo {
	return &fakeFileInfoRepo{slots: slots}
}

func (r *fakeFileInfoRepo) GetByChainID(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) ([]*types.FileInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.FileInfo
	for _, s := range r.slots {
		if s.ChainID == chainID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeFileInfoRepo) UpdateWatermark(ctx context.Context, tx *gorm.DB, id uuid.UUID, watermark time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots {
		if s.ID != id {
			continue
		}
		if s.LastModificationDate == nil || s.LastModificationDate.Before(watermark) {
			w := watermark
			s.LastModificationDate = &w
		}
	}
	return nil
}

type fakeFileRepo struct {
	mu         sync.Mutex
	files      []*types.AcquisitionFile
	batchSizes []int
}

func (r *fakeFileRepo) CreateBatch(ctx context.Context, tx *gorm.DB, files []*types.AcquisitionFile) ([]*types.AcquisitionFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(files) == 0 {
		return files, nil
	}
	r.batchSizes = append(r.batchSizes, len(files))
	now := time.Now()
	for _, f := range files {
		for _, existing := range r.files {
			if existing.FileInfoID == f.FileInfoID && existing.FilePath == f.FilePath {
				return nil, fmt.Errorf("duplicate path %s", f.FilePath)
			}
		}
		if f.ID == uuid.Nil {
			f.ID = uuid.New()
		}
		if f.State == "" {
			f.State = types.FileStateInProgress
		}
		if f.AcquisitionDate.IsZero() {
			f.AcquisitionDate = now
		}
		r.files = append(r.files, f)
	}
	return files, nil
}

func (r *fakeFileRepo) GetKnownPaths(ctx context.Context, tx *gorm.DB, fileInfoID uuid.UUID, paths []string) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := map[string]bool{}
	for _, p := range paths {
		want[p] = true
	}
	known := map[string]bool{}
	for _, f := range r.files {
		if f.FileInfoID == fileInfoID && want[f.FilePath] {
			known[f.FilePath] = true
		}
	}
	return known, nil
}

func (r *fakeFileRepo) GetPageByStates(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, states []string, limit int) ([]*types.AcquisitionFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inState := map[string]bool{}
	for _, s := range states {
		inState[s] = true
	}
	var out []*types.AcquisitionFile
	for _, f := range r.files {
		if f.ChainID == chainID && inState[f.State] {
			out = append(out, f)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeFileRepo) GetByProductIDs(ctx context.Context, tx *gorm.DB, productIDs []uuid.UUID) ([]*types.AcquisitionFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := map[uuid.UUID]bool{}
	for _, id := range productIDs {
		want[id] = true
	}
	var out []*types.AcquisitionFile
	for _, f := range r.files {
		if f.ProductID != nil && want[*f.ProductID] {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *fakeFileRepo) UpdateState(ctx context.Context, tx *gorm.DB, id uuid.UUID, state, errText string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		if f.ID == id {
			f.State = state
			f.Error = errText
		}
	}
	return nil
}

func (r *fakeFileRepo) Acquire(ctx context.Context, tx *gorm.DB, id, productID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		if f.ID == id {
			pid := productID
			f.ProductID = &pid
			f.State = types.FileStateAcquired
			f.Error = ""
		}
	}
	return nil
}

func (r *fakeFileRepo) CountAcquiredByFileInfo(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (map[uuid.UUID]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[uuid.UUID]int64{}
	for _, f := range r.files {
		if f.ProductID != nil && *f.ProductID == productID && f.State == types.FileStateAcquired {
			counts[f.FileInfoID]++
		}
	}
	return counts, nil
}

func (r *fakeFileRepo) CountByChainAndState(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[string]int64{}
	for _, f := range r.files {
		if f.ChainID == chainID {
			counts[f.State]++
		}
	}
	return counts, nil
}

func (r *fakeFileRepo) DeleteByProductIDs(ctx context.Context, tx *gorm.DB, productIDs []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := map[uuid.UUID]bool{}
	for _, id := range productIDs {
		want[id] = true
	}
	kept := r.files[:0]
	for _, f := range r.files {
		if f.ProductID == nil || !want[*f.ProductID] {
			kept = append(kept, f)
		}
	}
	r.files = kept
	return nil
}

func (r *fakeFileRepo) byPath(path string) *types.AcquisitionFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		if f.FilePath == path {
			return f
		}
	}
	return nil
}

type fakeProductRepo struct {
	mu       sync.Mutex
	products []*types.Product
}

func (r *fakeProductRepo) Create(ctx context.Context, tx *gorm.DB, products []*types.Product) ([]*types.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, p := range products {
		for _, existing := range r.products {
			if existing.ChainID == p.ChainID && existing.ProductName == p.ProductName {
				return nil, fmt.Errorf("duplicate product %s", p.ProductName)
			}
		}
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		if p.State == "" {
			p.State = types.ProductStateAcquiring
		}
		if p.LastUpdate.IsZero() {
			p.LastUpdate = now
		}
		r.products = append(r.products, p)
	}
	return products, nil
}

func (r *fakeProductRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := map[uuid.UUID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []*types.Product
	for _, p := range r.products {
		if want[p.ID] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakeProductRepo) GetByName(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, name string) (*types.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.products {
		if p.ChainID == chainID && p.ProductName == name {
			return p, nil
		}
	}
	return nil, nil
}

func (r *fakeProductRepo) GetPageBySIPStates(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, session string, states []string, limit, offset int) ([]*types.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inState := map[string]bool{}
	for _, s := range states {
		inState[s] = true
	}
	var matched []*types.Product
	for _, p := range r.products {
		if p.ChainID == chainID && inState[p.SIPState] && (session == "" || p.Session == session) {
			matched = append(matched, p)
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *fakeProductRepo) GetPageByStates(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, states []string, limit int) ([]*types.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inState := map[string]bool{}
	for _, s := range states {
		inState[s] = true
	}
	var out []*types.Product
	for _, p := range r.products {
		if p.ChainID == chainID && inState[p.State] {
			out = append(out, p)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeProductRepo) GetBySIPStates(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, session string, states []string) ([]*types.Product, error) {
	return r.GetPageBySIPStates(ctx, tx, chainID, session, states, len(r.products)+1, 0)
}

func (r *fakeProductRepo) GetByIngestID(ctx context.Context, tx *gorm.DB, ingestID string) (*types.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.products {
		if p.IngestID == ingestID {
			return p, nil
		}
	}
	return nil, nil
}

func (r *fakeProductRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.find(id)
	if p == nil {
		return nil
	}
	r.apply(p, updates)
	return nil
}

func (r *fakeProductRepo) TransitSIPState(ctx context.Context, tx *gorm.DB, id uuid.UUID, from []string, to string, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range from {
		if !types.CanTransitSIPState(f, to) {
			return false, nil
		}
	}
	p := r.find(id)
	if p == nil {
		return false, nil
	}
	current := false
	for _, f := range from {
		if p.SIPState == f {
			current = true
		}
	}
	if !current {
		return false, nil
	}
	p.SIPState = to
	p.LastUpdate = time.Now()
	r.apply(p, updates)
	return true, nil
}

func (r *fakeProductRepo) find(id uuid.UUID) *types.Product {
	for _, p := range r.products {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *fakeProductRepo) apply(p *types.Product, updates map[string]interface{}) {
	for key, v := range updates {
		switch key {
		case "state":
			p.State = v.(string)
		case "error":
			p.Error = v.(string)
		case "ingest_id":
			p.IngestID = v.(string)
		case "sip":
			p.SIP = v.(datatypes.JSON)
		case "last_sip_generation_job_id":
			id := v.(uuid.UUID)
			p.LastSIPGenerationJobID = &id
		case "last_post_process_job_id":
			id := v.(uuid.UUID)
			p.LastPostProcessJobID = &id
		}
	}
}

func (r *fakeProductRepo) CountBySIPState(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[string]int64{}
	for _, p := range r.products {
		if p.ChainID == chainID {
			counts[p.SIPState]++
		}
	}
	return counts, nil
}

func (r *fakeProductRepo) CountBySIPStates(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, session string, states []string) (int64, error) {
	matched, err := r.GetBySIPStates(ctx, tx, chainID, session, states)
	return int64(len(matched)), err
}

func (r *fakeProductRepo) CountByChain(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, p := range r.products {
		if p.ChainID == chainID {
			total++
		}
	}
	return total, nil
}

func (r *fakeProductRepo) DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := map[uuid.UUID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	kept := r.products[:0]
	for _, p := range r.products {
		if !want[p.ID] {
			kept = append(kept, p)
		}
	}
	r.products = kept
	return nil
}

func (r *fakeProductRepo) byName(name string) *types.Product {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.products {
		if p.ProductName == name {
			return p
		}
	}
	return nil
}

type fakeJobRunRepo struct {
	mu   sync.Mutex
	jobs []*types.JobRun
}

func (r *fakeJobRunRepo) Create(ctx context.Context, tx *gorm.DB, jobs []*types.JobRun) ([]*types.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range jobs {
		if j.ID == uuid.Nil {
			j.ID = uuid.New()
		}
		if j.Status == "" {
			j.Status = types.JobStatusQueued
		}
		r.jobs = append(r.jobs, j)
	}
	return jobs, nil
}

func (r *fakeJobRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return nil, nil
}

func (r *fakeJobRunRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, staleRunning time.Duration) (*types.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.Status == types.JobStatusQueued {
			j.Status = types.JobStatusRunning
			j.Attempts++
			return j, nil
		}
	}
	return nil, nil
}

func (r *fakeJobRunRepo) MarkRouted(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.ID != id {
			continue
		}
		if j.Routed {
			return false, nil
		}
		j.Routed = true
		return true, nil
	}
	return false, nil
}

func (r *fakeJobRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.ID != id {
			continue
		}
		if v, ok := updates["status"]; ok {
			j.Status = v.(string)
		}
		if v, ok := updates["stage"]; ok {
			j.Stage = v.(string)
		}
		if v, ok := updates["message"]; ok {
			j.Message = v.(string)
		}
		if v, ok := updates["progress"]; ok {
			j.Progress = v.(int)
		}
		if v, ok := updates["error"]; ok {
			j.Error = v.(string)
		}
	}
	return nil
}

func (r *fakeJobRunRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return nil
}

func (r *fakeJobRunRepo) MarkAbortRequestedByChain(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var flagged int64
	for _, j := range r.jobs {
		if j.ChainID == chainID && (j.Status == types.JobStatusQueued || j.Status == types.JobStatusRunning) {
			j.AbortRequested = true
			flagged++
		}
	}
	return flagged, nil
}

func (r *fakeJobRunRepo) CountNonTerminalByChain(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, j := range r.jobs {
		if j.ChainID == chainID && !types.IsTerminalJobStatus(j.Status) {
			total++
		}
	}
	return total, nil
}

func (r *fakeJobRunRepo) ofType(jobType string) []*types.JobRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.JobRun
	for _, j := range r.jobs {
		if j.JobType == jobType {
			out = append(out, j)
		}
	}
	return out
}

// stubScanStrategy yields a fixed candidate list, honoring the watermark the
// way real strategies must.
type stubScanStrategy struct {
	candidates []strategies.Candidate
	err        error
	calls      int
}

func (s *stubScanStrategy) Scan(ctx context.Context, dir string, since *time.Time) ([]strategies.Candidate, *time.Time, error) {
	s.calls++
	if s.err != nil {
		return nil, nil, s.err
	}
	var out []strategies.Candidate
	newest := time.Time{}
	if since != nil {
		newest = *since
	}
	for _, c := range s.candidates {
		if since != nil && !c.LastModified.After(*since) {
			continue
		}
		if c.LastModified.After(newest) {
			newest = c.LastModified
		}
		out = append(out, c)
	}
	if newest.IsZero() {
		return out, since, nil
	}
	return out, &newest, nil
}

// rejectValidation fails the configured paths and accepts everything else.
type rejectValidation struct {
	bad map[string]string
}

func (v *rejectValidation) Validate(path string) error {
	if reason, ok := v.bad[path]; ok {
		return fmt.Errorf("%s", reason)
	}
	return nil
}

type fakeIngestClient struct {
	mu      sync.Mutex
	calls   int
	nextID  string
	nextErr error
}

func (c *fakeIngestClient) Submit(ctx context.Context, pkg datatypes.JSON) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.nextErr != nil {
		return "", c.nextErr
	}
	if c.nextID == "" {
		return uuid.NewString(), nil
	}
	return c.nextID, nil
}
