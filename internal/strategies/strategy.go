package strategies

import (
	"context"
	"time"

	"gorm.io/datatypes"

	"github.com/adam314315/rossbackend-sub000/internal/types"
)

// Candidate is one file path yielded by a scan pass.
type Candidate struct {
	Path         string
	SizeBytes    int64
	LastModified time.Time
}

// ScanStrategy produces the finite set of candidate paths under dir that are
// newer than the since watermark, plus the new watermark. Implementations
// must not re-yield paths at or before since; the file registry dedupes by
// path as a second line of defense.
type ScanStrategy interface {
	Scan(ctx context.Context, dir string, since *time.Time) ([]Candidate, *time.Time, error)
}

// ValidationStrategy checks a single discovered file. A nil return means
// valid; a non-nil error is the invalidity reason recorded on the file.
type ValidationStrategy interface {
	Validate(path string) error
}

// NamingStrategy computes the product a file belongs to. It must be
// deterministic: the same file yields the same name across retries.
type NamingStrategy interface {
	ProductName(file *types.AcquisitionFile) (string, error)
}

// GenerationStrategy builds the submission package for a complete product.
type GenerationStrategy interface {
	Generate(product *types.Product, files []*types.AcquisitionFile) (datatypes.JSON, error)
}

// PostProcessStrategy optionally runs after a package has been generated.
type PostProcessStrategy interface {
	PostProcess(product *types.Product, sip datatypes.JSON) error
}
