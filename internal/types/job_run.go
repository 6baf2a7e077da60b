package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type JobRun struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ChainID uuid.UUID `gorm:"type:uuid;not null;index" json:"chain_id"`
	JobType string    `gorm:"column:job_type;not null;index" json:"job_type"`

	Status   string `gorm:"column:status;not null;index" json:"status"` // queued|running|succeeded|failed|aborted
	Stage    string `gorm:"column:stage" json:"stage"`
	Message  string `gorm:"column:message" json:"message,omitempty"`
	Progress int    `gorm:"column:progress;not null;default:0" json:"progress"`
	Attempts int    `gorm:"column:attempts;not null;default:0" json:"attempts"`

	AbortRequested bool `gorm:"column:abort_requested;not null;default:false;index" json:"abort_requested"`
	// Routed records that the completion event of this job was applied to the
	// product/chain state machines. Set once, via compare-and-swap.
	Routed bool `gorm:"column:routed;not null;default:false" json:"routed"`

	Payload datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Result  datatypes.JSON `gorm:"column:result;type:jsonb" json:"result,omitempty"`

	Error       string     `gorm:"column:error" json:"error"`
	LastErrorAt *time.Time `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	LockedAt    *time.Time `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (JobRun) TableName() string { return "job_run" }
