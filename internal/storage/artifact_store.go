package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/garyjia/report-dispatch/pkg/utils"
	"go.uber.org/zap"
)

// ErrInvalidKey is returned when a USN cannot be turned into a storage path
var ErrInvalidKey = errors.New("invalid artifact key")

// ArtifactStore lays out report documents and page images by USN:
//
//	{documentRoot}/{USN}_report.pdf
//	{imageRoot}/{USN}_report/{USN}_report_page_{n}.png
//
// Writes for one USN never touch another USN's paths.
type ArtifactStore struct {
	documents *LocalFileStorage
	images    *LocalFileStorage
	logger    *zap.Logger
}

// NewArtifactStore creates a store over the two configured roots
func NewArtifactStore(documentRoot, imageRoot string, logger *zap.Logger) *ArtifactStore {
	return &ArtifactStore{
		documents: NewLocalFileStorage(documentRoot, logger),
		images:    NewLocalFileStorage(imageRoot, logger),
		logger:    logger,
	}
}

// EnsureRoots creates both root directories
func (s *ArtifactStore) EnsureRoots() error {
	if err := s.documents.MkdirAll(s.documents.BaseDir()); err != nil {
		return err
	}
	return s.images.MkdirAll(s.images.BaseDir())
}

// ReportName is the per-student artifact stem
func ReportName(usn string) string {
	return usn + "_report"
}

// DocumentPath returns where the report for usn lives
func (s *ArtifactStore) DocumentPath(usn string) (string, error) {
	if err := checkKey(usn); err != nil {
		return "", err
	}
	path := filepath.Join(s.documents.BaseDir(), ReportName(usn)+".pdf")
	if err := s.documents.ValidatePath(path); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return path, nil
}

// SaveDocument stores the rendered report for usn, overwriting any previous one
func (s *ArtifactStore) SaveDocument(usn string, content []byte) (string, error) {
	path, err := s.DocumentPath(usn)
	if err != nil {
		return "", err
	}
	if err := s.documents.SaveFile(path, content); err != nil {
		return "", err
	}
	return path, nil
}

// ImageFolder returns the folder holding the page images for usn
func (s *ArtifactStore) ImageFolder(usn string) (string, error) {
	if err := checkKey(usn); err != nil {
		return "", err
	}
	folder := filepath.Join(s.images.BaseDir(), ReportName(usn))
	if err := s.images.ValidatePath(folder); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return folder, nil
}

// CreateImageFolder creates the image folder for usn if it is absent
func (s *ArtifactStore) CreateImageFolder(usn string) (string, error) {
	folder, err := s.ImageFolder(usn)
	if err != nil {
		return "", err
	}
	if err := s.images.MkdirAll(folder); err != nil {
		s.logger.Error("Failed to create image folder",
			zap.String("usn", usn),
			zap.String("folder", folder),
			zap.Error(err))
		return "", err
	}
	return folder, nil
}

// PagePath returns the image path for page (1-based) of usn's report
func (s *ArtifactStore) PagePath(usn string, page int) (string, error) {
	if page < 1 {
		return "", fmt.Errorf("%w: page %d", ErrInvalidKey, page)
	}
	folder, err := s.ImageFolder(usn)
	if err != nil {
		return "", err
	}
	return filepath.Join(folder, fmt.Sprintf("%s_page_%d.png", ReportName(usn), page)), nil
}

// SaveImage stores one page image, overwriting any previous one
func (s *ArtifactStore) SaveImage(usn string, page int, content []byte) (string, error) {
	path, err := s.PagePath(usn, page)
	if err != nil {
		return "", err
	}
	if err := s.images.SaveFile(path, content); err != nil {
		return "", err
	}
	return path, nil
}

// ImageExists reports whether the page image for usn is on disk
func (s *ArtifactStore) ImageExists(usn string, page int) bool {
	path, err := s.PagePath(usn, page)
	if err != nil {
		return false
	}
	return s.images.Exists(path)
}

// PruneImages removes page images of usn numbered above keep, left over from
// an earlier document with more pages. It returns the number removed.
func (s *ArtifactStore) PruneImages(usn string, keep int) (int, error) {
	folder, err := s.ImageFolder(usn)
	if err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(folder)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list image folder: %w", err)
	}

	prefix := ReportName(usn) + "_page_"
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".png") {
			continue
		}
		page, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".png"))
		if err != nil || page <= keep {
			continue
		}
		if err := s.images.DeleteFile(filepath.Join(folder, name)); err != nil {
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		s.logger.Debug("Stale page images removed",
			zap.String("usn", usn),
			zap.Int("kept", keep),
			zap.Int("removed", removed))
	}
	return removed, nil
}

func checkKey(usn string) error {
	if err := utils.ValidateUSN(usn); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return nil
}
