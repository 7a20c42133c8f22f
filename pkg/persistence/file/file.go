// Package file provides file-based persistence for workflows, runs, and
// decision records. Each entity is one JSON document under the root
// directory. A single lock shared by every repository makes multi-entity
// writes, pausing a run together with its approval requests in particular,
// atomic within the process. It is meant for development and tests; the
// postgresql backend is the production one.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vessoa/paperwork/pkg/persistence"
)

// Persistence implements persistence.Persistence on top of the file system.
type Persistence struct {
	root string
	mu   sync.RWMutex

	workflowRepo  *WorkflowRepository
	runRepo       *RunRepository
	approvalRepo  *ApprovalRepository
	signatureRepo *SignatureRepository
	documentRepo  *DocumentRepository
}

// NewPersistence creates a file persistence rooted at the given directory.
// A "file://" prefix is stripped, so the same connection string style works
// for every backend.
func NewPersistence(root string) (persistence.Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	if err := os.MkdirAll(cleanRoot, 0750); err != nil {
		return nil, fmt.Errorf("failed to create persistence root %s: %w", cleanRoot, err)
	}

	p := &Persistence{root: cleanRoot}
	p.workflowRepo = &WorkflowRepository{store: p}
	p.runRepo = &RunRepository{store: p}
	p.approvalRepo = &ApprovalRepository{store: p}
	p.signatureRepo = &SignatureRepository{store: p}
	p.documentRepo = &DocumentRepository{store: p}

	return p, nil
}

// Close performs any necessary cleanup. For file persistence there is
// nothing to release.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory still exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) RunRepository() persistence.RunRepository {
	return p.runRepo
}

func (p *Persistence) ApprovalRepository() persistence.ApprovalRepository {
	return p.approvalRepo
}

func (p *Persistence) SignatureRepository() persistence.SignatureRepository {
	return p.signatureRepo
}

func (p *Persistence) DocumentRepository() persistence.DocumentRepository {
	return p.documentRepo
}

// validateID rejects identifiers that could escape the storage directory.
func validateID(id string) error {
	if id == "" {
		return errors.New("identifier cannot be empty")
	}

	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return errors.New("identifier contains invalid characters")
	}

	return nil
}

func (p *Persistence) entityPath(kind, id string) string {
	return filepath.Clean(path.Join(p.root, kind, id+".json"))
}

// readEntity loads one JSON document. A missing file surfaces as
// os.ErrNotExist so callers can map it to their not-found sentinel.
func (p *Persistence) readEntity(kind, id string, out any) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("invalid identifier %q: %w", id, err)
	}

	body, err := os.ReadFile(p.entityPath(kind, id)) // #nosec G304 -- path is validated and constructed safely
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s %s: %w", kind, id, err)
	}

	return nil
}

// writeEntity stores one JSON document, creating the kind directory on
// first use.
func (p *Persistence) writeEntity(kind, id string, in any) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("invalid identifier %q: %w", id, err)
	}

	if err := os.MkdirAll(path.Join(p.root, kind), 0750); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", kind, id, err)
	}

	return os.WriteFile(p.entityPath(kind, id), data, 0600)
}

// createEntity stores one JSON document only if it does not exist yet. An
// existing file surfaces as os.ErrExist.
func (p *Persistence) createEntity(kind, id string, in any) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("invalid identifier %q: %w", id, err)
	}

	if err := os.MkdirAll(path.Join(p.root, kind), 0750); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", kind, id, err)
	}

	file, err := os.OpenFile(p.entityPath(kind, id), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600) // #nosec G304 -- path is validated and constructed safely
	if err != nil {
		return err
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("failed to write %s %s: %w", kind, id, err)
	}

	return file.Close()
}

// forEachEntity reads every JSON document of one kind. A kind directory
// that does not exist yet yields zero documents.
func (p *Persistence) forEachEntity(kind string, each func(data []byte) error) error {
	dir := path.Join(p.root, kind)

	root := os.DirFS(dir)

	files, err := fs.Glob(root, "*.json")
	if err != nil {
		return fmt.Errorf("failed to list %s files: %w", kind, err)
	}

	for _, file := range files {
		body, err := os.ReadFile(filepath.Clean(path.Join(dir, file))) // #nosec G304 -- path comes from a directory listing
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return fmt.Errorf("failed to read %s file %s: %w", kind, file, err)
		}

		if err := each(body); err != nil {
			return err
		}
	}

	return nil
}
