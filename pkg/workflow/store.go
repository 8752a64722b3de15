// Package workflow loads declarative provisioning descriptors from disk
// (§3 Workflow, §4.3) and resolves their template variables against a
// node's context at boot time.
package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mrveiss/pureboot/pkg/model"
)

// Catalog holds every workflow descriptor loaded from a directory. It is
// safe for concurrent use; Reload swaps the in-memory set atomically.
type Catalog struct {
	mu        sync.RWMutex
	dir       string
	workflows map[string]*model.Workflow
}

// NewCatalog loads every *.yaml/*.yml file under dir as a workflow
// descriptor. A malformed file fails the whole load, since a workflow
// catalog with a silently-skipped entry is worse than a service that
// refuses to start.
func NewCatalog(dir string) (*Catalog, error) {
	c := &Catalog{dir: dir}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-scans the configured directory, replacing the in-memory
// catalog on success. NewCatalog calls it once; there is no fsnotify watch,
// and cmd/pureboot installs no signal handler that calls it, so a running
// `serve` keeps the catalog it loaded at startup.
func (c *Catalog) Reload() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read workflows dir %s: %w", c.dir, err)
	}

	loaded := make(map[string]*model.Workflow)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(c.dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read workflow %s: %w", path, err)
		}

		var wf model.Workflow
		if err := yaml.Unmarshal(raw, &wf); err != nil {
			return fmt.Errorf("parse workflow %s: %w", path, err)
		}
		if wf.ID == "" {
			return fmt.Errorf("workflow %s: missing id", path)
		}
		if _, dup := loaded[wf.ID]; dup {
			return fmt.Errorf("workflow %s: duplicate id %q", path, wf.ID)
		}
		loaded[wf.ID] = &wf
	}

	c.mu.Lock()
	c.workflows = loaded
	c.mu.Unlock()
	return nil
}

// Get returns the workflow with the given ID, or false if none exists.
func (c *Catalog) Get(id string) (*model.Workflow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	wf, ok := c.workflows[id]
	return wf, ok
}

// List returns every loaded workflow, unordered.
func (c *Catalog) List() []*model.Workflow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*model.Workflow, 0, len(c.workflows))
	for _, wf := range c.workflows {
		out = append(out, wf)
	}
	return out
}
