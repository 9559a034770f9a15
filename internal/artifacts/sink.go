// Package artifacts writes conversion outputs: figure images, the Markdown
// document, its HTML preview and the metadata JSON.
package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spherical/booklet-extractor/internal/domain"
)

// FileSink writes artifacts below an output directory.
type FileSink struct {
	dir       string
	imagesDir string
}

// NewFileSink creates the output and image directories.
func NewFileSink(dir, imagesDir string) (*FileSink, error) {
	if imagesDir == "" {
		imagesDir = "images"
	}
	if err := os.MkdirAll(filepath.Join(dir, imagesDir), 0o755); err != nil {
		return nil, domain.IOError(fmt.Sprintf("Failed to create output directory %s", dir), err)
	}
	return &FileSink{dir: dir, imagesDir: imagesDir}, nil
}

// Dir returns the output directory.
func (s *FileSink) Dir() string {
	return s.dir
}

// ImagesDir returns the image directory relative to Dir.
func (s *FileSink) ImagesDir() string {
	return s.imagesDir
}

// WriteImage writes an image under the images directory.
func (s *FileSink) WriteImage(ctx context.Context, filename string, data []byte) error {
	return writeFile(filepath.Join(s.dir, s.imagesDir, filepath.Base(filename)), data)
}

// WriteDocument writes a document directly under the output directory.
func (s *FileSink) WriteDocument(ctx context.Context, filename string, data []byte) error {
	return writeFile(filepath.Join(s.dir, filepath.Base(filename)), data)
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return domain.IOError(fmt.Sprintf("Failed to write %s", path), err)
	}
	return nil
}

// MemorySink keeps artifacts in memory.
type MemorySink struct {
	mu        sync.Mutex
	images    map[string][]byte
	documents map[string][]byte
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		images:    make(map[string][]byte),
		documents: make(map[string][]byte),
	}
}

func (s *MemorySink) WriteImage(ctx context.Context, filename string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[filename] = append([]byte(nil), data...)
	return nil
}

func (s *MemorySink) WriteDocument(ctx context.Context, filename string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[filename] = append([]byte(nil), data...)
	return nil
}

// Image returns a written image.
func (s *MemorySink) Image(filename string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.images[filename]
	return b, ok
}

// Document returns a written document.
func (s *MemorySink) Document(filename string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.documents[filename]
	return b, ok
}

// ImageNames returns the written image names, sorted.
func (s *MemorySink) ImageNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.images))
	for n := range s.images {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DocumentNames returns the written document names, sorted.
func (s *MemorySink) DocumentNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.documents))
	for n := range s.documents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
