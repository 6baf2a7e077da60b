package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Product struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ChainID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_product_chain_name" json:"chain_id"`
	ProductName string    `gorm:"column:product_name;not null;uniqueIndex:uq_product_chain_name" json:"product_name"`
	Session     string    `gorm:"column:session;index" json:"session"`

	// State tracks file-completeness progress, SIPState tracks the
	// generation/submission lifecycle.
	State    string `gorm:"column:state;not null;index" json:"state"`
	SIPState string `gorm:"column:sip_state;not null;default:'';index" json:"sip_state"`

	SIP      datatypes.JSON `gorm:"column:sip;type:jsonb" json:"sip,omitempty"`
	IngestID string         `gorm:"column:ingest_id;index" json:"ingest_id"`
	Error    string         `gorm:"column:error" json:"error"`

	LastSIPGenerationJobID *uuid.UUID `gorm:"type:uuid;column:last_sip_generation_job_id" json:"last_sip_generation_job_id,omitempty"`
	LastPostProcessJobID   *uuid.UUID `gorm:"type:uuid;column:last_post_process_job_id" json:"last_post_process_job_id,omitempty"`

	LastUpdate time.Time      `gorm:"column:last_update;not null;index" json:"last_update"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Product) TableName() string { return "product" }
