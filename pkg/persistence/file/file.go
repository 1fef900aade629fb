// Package file provides a JSON document store on the local file system.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/taskflow/pkg/persistence"
)

// Persistence implements persistence.Persistence using one JSON file per entity.
type Persistence struct {
	root           string
	mu             sync.RWMutex
	workflowRepo   *WorkflowRepository
	templateRepo   *TemplateRepository
	accountRepo    *AccountRepository
	attachmentRepo *AttachmentRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	fp := &Persistence{root: cleanRoot}
	fp.workflowRepo = &WorkflowRepository{store: fp}
	fp.templateRepo = &TemplateRepository{store: fp}
	fp.accountRepo = &AccountRepository{store: fp}
	fp.attachmentRepo = &AttachmentRepository{store: fp}

	return fp
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) TemplateRepository() persistence.TemplateRepository {
	return fp.templateRepo
}

func (fp *Persistence) AccountRepository() persistence.AccountRepository {
	return fp.accountRepo
}

func (fp *Persistence) AttachmentRepository() persistence.AttachmentRepository {
	return fp.attachmentRepo
}

func (fp *Persistence) path(collection, id string) string {
	return filepath.Clean(filepath.Join(fp.root, collection, id+".json"))
}

// read decodes collection/id into out. It reports false when the file does not exist.
func (fp *Persistence) read(collection, id string, out any) (bool, error) {
	body, err := os.ReadFile(fp.path(collection, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read %s %s: %w", collection, id, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s %s: %w", collection, id, err)
	}

	return true, nil
}

// write stores value through a temporary file so readers never see a partial document.
func (fp *Persistence) write(collection, id string, value any) error {
	dir := filepath.Join(fp.root, collection)

	err := os.MkdirAll(dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", collection, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", collection, id, err)
	}

	tmp, err := os.CreateTemp(dir, id+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write %s %s: %w", collection, id, err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s %s: %w", collection, id, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s %s: %w", collection, id, err)
	}

	return os.Rename(tmp.Name(), fp.path(collection, id))
}

// ids lists the documents of a collection.
func (fp *Persistence) ids(collection string) ([]string, error) {
	files, err := fs.Glob(os.DirFS(filepath.Join(fp.root, collection)), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}

	ids := make([]string, 0, len(files))
	for _, file := range files {
		ids = append(ids, strings.TrimSuffix(file, ".json"))
	}

	return ids, nil
}
