package anchors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source yields the current anchor snapshot. Implementations must return a
// snapshot the caller may keep without further synchronization.
type Source interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// StaticSource always returns the same snapshot.
type StaticSource struct {
	snap *Snapshot
}

// NewStaticSource validates s and serves copies of it.
func NewStaticSource(s *Snapshot) (*StaticSource, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &StaticSource{snap: s.Clone()}, nil
}

func (s *StaticSource) Snapshot(context.Context) (*Snapshot, error) {
	return s.snap.Clone(), nil
}

// FileSource reads a JSON or YAML anchors document on every call, so edits
// to the file take effect on the next verification.
type FileSource struct {
	Path string
}

// NewFileSource returns a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (f *FileSource) Snapshot(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadFile(f.Path)
}

// LoadFile parses and validates an anchors document. Files ending in .yaml
// or .yml are YAML; anything else is JSON.
func LoadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("anchors: read %s: %w", path, err)
	}
	var s *Snapshot
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		s, err = ParseYAML(data)
	default:
		s, err = ParseJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("anchors: %s: %w", path, err)
	}
	return s, nil
}

// ParseJSON decodes and validates a JSON anchors document. Unknown keys are
// rejected.
func ParseJSON(data []byte) (*Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var s Snapshot
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ParseYAML decodes and validates a YAML anchors document. Unknown keys are
// rejected.
func ParseYAML(data []byte) (*Snapshot, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var s Snapshot
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
