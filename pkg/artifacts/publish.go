package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Mindburn-Labs/pcclite/pkg/canonicalize"
)

// Manifest records what one batch run published.
type Manifest struct {
	RunID string            `json:"run_id"`
	Files map[string]string `json:"files"` // file name -> digest
}

// Publish stores each named file under dir, then stores the manifest
// itself in canonical JSON. It returns the manifest and its digest, which
// is the single handle for retrieving the run.
func Publish(ctx context.Context, s Store, runID, dir string, names []string) (*Manifest, string, error) {
	m := &Manifest{RunID: runID, Files: make(map[string]string, len(names))}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name)) //nolint:gosec // names are fixed output files
		if err != nil {
			return nil, "", fmt.Errorf("publish %s: %w", name, err)
		}
		digest, err := s.Put(ctx, data)
		if err != nil {
			return nil, "", fmt.Errorf("publish %s: %w", name, err)
		}
		m.Files[name] = digest
	}

	body, err := canonicalize.JCS(m)
	if err != nil {
		return nil, "", fmt.Errorf("publish manifest: %w", err)
	}
	digest, err := s.Put(ctx, body)
	if err != nil {
		return nil, "", fmt.Errorf("publish manifest: %w", err)
	}
	return m, digest, nil
}
