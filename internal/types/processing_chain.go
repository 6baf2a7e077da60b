package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ProcessingChain struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Label              string     `gorm:"column:label;not null;uniqueIndex" json:"label"`
	Active             bool       `gorm:"column:active;not null;default:false" json:"active"`
	Mode               string     `gorm:"column:mode;not null;default:'manual'" json:"mode"` // auto|manual
	Locked             bool       `gorm:"column:locked;not null;default:false;index" json:"locked"`
	LastActivationDate *time.Time `gorm:"column:last_activation_date" json:"last_activation_date,omitempty"`
	// Cron expression, required when mode=auto.
	Periodicity    string         `gorm:"column:periodicity" json:"periodicity"`
	IngestChain    string         `gorm:"column:ingest_chain" json:"ingest_chain"`
	Session        string         `gorm:"column:session" json:"session"`
	CategoryTags   datatypes.JSON `gorm:"column:category_tags;type:jsonb" json:"category_tags"`
	VersioningMode string         `gorm:"column:versioning_mode" json:"versioning_mode"`
	// StoreFiles true means the SIP embeds file contents; false means it
	// references them in place.
	StoreFiles bool   `gorm:"column:store_files;not null;default:false" json:"store_files"`
	StorePath  string `gorm:"column:store_path" json:"store_path"`

	ValidationStrategy  string `gorm:"column:validation_strategy" json:"validation_strategy"`
	ProductStrategy     string `gorm:"column:product_strategy;not null" json:"product_strategy"`
	GenerationStrategy  string `gorm:"column:generation_strategy;not null" json:"generation_strategy"`
	PostProcessStrategy string `gorm:"column:post_process_strategy" json:"post_process_strategy"`

	ExecutionBlockers datatypes.JSON `gorm:"column:execution_blockers;type:jsonb" json:"execution_blockers"`

	FileInfos []*FileInfo `gorm:"foreignKey:ChainID;references:ID" json:"file_infos,omitempty"`

	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ProcessingChain) TableName() string { return "processing_chain" }
