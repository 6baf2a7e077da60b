package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// FileInfo describes one category of input file expected by a processing
// chain: where to scan for it, with which strategy, and whether a product
// needs it to be complete.
type FileInfo struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ChainID   uuid.UUID `gorm:"type:uuid;not null;index" json:"chain_id"`
	Mandatory bool      `gorm:"column:mandatory;not null;default:false" json:"mandatory"`
	Comment   string    `gorm:"column:comment" json:"comment"`
	MimeType  string    `gorm:"column:mime_type" json:"mime_type"`
	DataType  string    `gorm:"column:data_type" json:"data_type"`

	ScanDirectory  string         `gorm:"column:scan_directory;not null" json:"scan_directory"`
	ScanStrategy   string         `gorm:"column:scan_strategy;not null" json:"scan_strategy"`
	ScanParameters datatypes.JSON `gorm:"column:scan_parameters;type:jsonb" json:"scan_parameters"`

	// High watermark: last-modified timestamp of the newest file already
	// scanned for this slot.
	LastModificationDate *time.Time `gorm:"column:last_modification_date" json:"last_modification_date,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (FileInfo) TableName() string { return "file_info" }
