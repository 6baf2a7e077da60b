package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/adam314315/rossbackend-sub000/internal/repos"
	"github.com/adam314315/rossbackend-sub000/internal/types"
)

// ErrAborted is returned by handlers that observed an abort request and
// stopped at a page boundary.
var ErrAborted = errors.New("job aborted")

// Context is the execution handle for a single claimed job run. Handlers go
// through it for payload access, progress reporting and abort checks; they
// never write job_run rows directly.
type Context struct {
	Ctx     context.Context
	DB      *gorm.DB
	Job     *types.JobRun
	Repo    repos.JobRunRepo
	payload map[string]any
}

func NewContext(ctx context.Context, db *gorm.DB, job *types.JobRun, repo repos.JobRunRepo) *Context {
	c := &Context{
		Ctx:  ctx,
		DB:   db,
		Job:  job,
		Repo: repo,
	}
	_ = c.decodePayload()
	return c
}

// decodePayload parses Job.Payload into a map. A malformed payload decodes to
// an empty map; handlers validate required fields themselves.
func (c *Context) decodePayload() error {
	if c.Job == nil {
		return nil
	}
	if len(c.Job.Payload) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err != nil {
		c.payload = map[string]any{}
		return err
	}
	c.payload = m
	return nil
}

// Payload never returns nil.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(fmt.Sprint(v))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (c *Context) PayloadString(key string) string {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func (c *Context) PayloadBool(key string) bool {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// Progress persists a non-terminal stage/progress update plus a heartbeat.
func (c *Context) Progress(stage string, pct int, msg string) {
	if c == nil || c.Repo == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()
	_ = c.Repo.UpdateFields(ctx, nil, c.Job.ID, map[string]interface{}{
		"stage":        stage,
		"progress":     pct,
		"message":      msg,
		"heartbeat_at": now,
		"updated_at":   now,
	})
	c.Job.Stage = stage
	c.Job.Progress = pct
	c.Job.Message = msg
	c.Job.HeartbeatAt = &now
	c.Job.UpdatedAt = now
}

// Aborted reloads the job row and reports whether an abort was requested.
// Handlers check this between pages; an abort observed mid-run surfaces as
// ErrAborted from Run.
func (c *Context) Aborted() bool {
	if c == nil || c.Repo == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return false
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return true
	}
	job, err := c.Repo.GetByID(ctx, nil, c.Job.ID)
	if err != nil || job == nil {
		return false
	}
	c.Job.AbortRequested = job.AbortRequested
	return job.AbortRequested
}
