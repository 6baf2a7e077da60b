package strategies

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/adam314315/rossbackend-sub000/internal/types"
)

// FilenameNamingStrategy derives the product name from the file's base name:
// the extension is dropped and any configured slot suffix (for example "_QL"
// on quicklook files) is trimmed, so companion files of one product converge
// on the same name. Purely a function of the path, hence deterministic.
type FilenameNamingStrategy struct {
	TrimSuffixes []string
}

func NewFilenameNamingStrategy(trimSuffixes ...string) *FilenameNamingStrategy {
	return &FilenameNamingStrategy{TrimSuffixes: trimSuffixes}
}

func (s *FilenameNamingStrategy) ProductName(file *types.AcquisitionFile) (string, error) {
	if file == nil || file.FilePath == "" {
		return "", fmt.Errorf("missing file path")
	}
	base := filepath.Base(file.FilePath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	for _, suffix := range s.TrimSuffixes {
		name = strings.TrimSuffix(name, suffix)
	}
	if name == "" {
		return "", fmt.Errorf("product name empty for path %q", file.FilePath)
	}
	return name, nil
}
