package strategies

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/adam314315/rossbackend-sub000/internal/types"
)

// JSONPackageGenerationStrategy builds the submission package as a JSON
// manifest of the product's acquired files.
type JSONPackageGenerationStrategy struct{}

type sipManifestFile struct {
	Path      string `json:"path"`
	Checksum  string `json:"checksum,omitempty"`
	SizeBytes int64  `json:"size_bytes"`
}

type sipManifest struct {
	ProductName string            `json:"product_name"`
	Session     string            `json:"session,omitempty"`
	Files       []sipManifestFile `json:"files"`
	GeneratedAt time.Time         `json:"generated_at"`
}

func (JSONPackageGenerationStrategy) Generate(product *types.Product, files []*types.AcquisitionFile) (datatypes.JSON, error) {
	if product == nil {
		return nil, fmt.Errorf("missing product")
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("product %s has no acquired files", product.ProductName)
	}
	manifest := sipManifest{
		ProductName: product.ProductName,
		Session:     product.Session,
		GeneratedAt: time.Now(),
	}
	for _, f := range files {
		if f.State != types.FileStateAcquired {
			return nil, fmt.Errorf("file %s is %s, expected %s", f.FilePath, f.State, types.FileStateAcquired)
		}
		manifest.Files = append(manifest.Files, sipManifestFile{
			Path:      f.FilePath,
			Checksum:  f.Checksum,
			SizeBytes: f.SizeBytes,
		})
	}
	raw, err := json.Marshal(manifest)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// NoopPostProcessStrategy is the default when a chain configures no
// post-processing.
type NoopPostProcessStrategy struct{}

func (NoopPostProcessStrategy) PostProcess(product *types.Product, sip datatypes.JSON) error {
	return nil
}
