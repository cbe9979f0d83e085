package localrepo

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/moyoez/localswap/types"
)

// CatalogApp is one entry of the application catalog.
type CatalogApp struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Summary     string `json:"summary,omitempty"`
	VersionName string `json:"versionName"`
}

// Catalog reads the application catalog directory.
type Catalog struct {
	dir string
}

func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: dir}
}

// List returns every application with readable metadata, sorted by id.
// Entries with a missing or malformed app.yaml are skipped.
func (c *Catalog) List() ([]CatalogApp, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []CatalogApp{}, nil
		}
		return nil, fmt.Errorf("failed to read apps dir: %w", err)
	}
	apps := make([]CatalogApp, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := c.meta(e.Name())
		if err != nil {
			continue
		}
		name := meta.Name
		if name == "" {
			name = e.Name()
		}
		apps = append(apps, CatalogApp{ID: e.Name(), Name: name, Summary: meta.Summary, VersionName: meta.VersionName})
	}
	slices.SortFunc(apps, func(a, b CatalogApp) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return apps, nil
}

// Validate fails with types.ErrUnknownApp for the first id not in the catalog.
func (c *Catalog) Validate(selection types.Selection) error {
	for _, id := range selection.Sorted() {
		if id != filepath.Base(id) || id == "." || id == ".." {
			return fmt.Errorf("%w: %s", types.ErrUnknownApp, id)
		}
		if _, err := c.meta(id); err != nil {
			return fmt.Errorf("%w: %s", types.ErrUnknownApp, id)
		}
	}
	return nil
}

func (c *Catalog) meta(id string) (AppMeta, error) {
	var meta AppMeta
	data, err := os.ReadFile(filepath.Join(c.dir, id, "app.yaml"))
	if err != nil {
		return meta, err
	}
	err = yaml.Unmarshal(data, &meta)
	return meta, err
}
