package strategies

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AlwaysValidStrategy accepts every file. Used by chains that trust their
// upstream producers.
type AlwaysValidStrategy struct{}

func (AlwaysValidStrategy) Validate(path string) error { return nil }

// ExtensionValidationStrategy accepts files whose extension is in the allowed
// set and which are non-empty on disk.
type ExtensionValidationStrategy struct {
	allowed map[string]bool
}

func NewExtensionValidationStrategy(extensions ...string) *ExtensionValidationStrategy {
	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[strings.ToLower(ext)] = true
	}
	return &ExtensionValidationStrategy{allowed: allowed}
}

func (s *ExtensionValidationStrategy) Validate(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if len(s.allowed) > 0 && !s.allowed[ext] {
		return fmt.Errorf("unexpected file extension %q", ext)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("file not readable: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("file is empty")
	}
	return nil
}
