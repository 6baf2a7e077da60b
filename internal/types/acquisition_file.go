package types

import (
	"time"

	"github.com/google/uuid"
)

type AcquisitionFile struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	FileInfoID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:uq_acquisition_file_path" json:"file_info_id"`
	ChainID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"chain_id"`
	ProductID  *uuid.UUID `gorm:"type:uuid;index" json:"product_id,omitempty"`

	FilePath string `gorm:"column:file_path;not null;uniqueIndex:uq_acquisition_file_path" json:"file_path"`
	State    string `gorm:"column:state;not null;index" json:"state"`
	// Error is set iff state is invalid or error.
	Error           string    `gorm:"column:error" json:"error"`
	Checksum        string    `gorm:"column:checksum" json:"checksum"`
	SizeBytes       int64     `gorm:"column:size_bytes" json:"size_bytes"`
	AcquisitionDate time.Time `gorm:"column:acquisition_date;not null;index" json:"acquisition_date"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (AcquisitionFile) TableName() string { return "acquisition_file" }
