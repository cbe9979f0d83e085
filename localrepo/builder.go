// Package localrepo builds the shareable repository on the local filesystem.
//
// A build happens in a staging directory beside the published one. Publish
// renames the staging directory into place and swaps the "repo" symlink, so
// a server following the symlink sees either the old or the new repository,
// never a partial one.
package localrepo

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/moyoez/localswap/tool"
	"github.com/moyoez/localswap/types"
)

const (
	IndexFile         = "index.json"
	PackagedIndexFile = "index.zip"
	IconsDir          = "icons"
	publishedLink     = "repo"
	stagingPrefix     = "staging-"
	publishedPrefix   = "repo-"
)

var symlink = os.Symlink

// Builder implements rebuild.Builder over an application catalog directory.
type Builder struct {
	root     string
	appsDir  string
	repoName string
	logger   *log.Logger

	mu        sync.Mutex
	staging   string
	apps      []IndexApp
	published string
	pubApps   []IndexApp
}

func NewBuilder(root, appsDir, repoName string, logger *log.Logger) (*Builder, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repo root: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create repo root: %w", err)
	}
	b := &Builder{
		root:     absRoot,
		appsDir:  appsDir,
		repoName: repoName,
		logger:   tool.LoggerOr(logger, "[LocalRepo]"),
	}
	if target, err := os.Readlink(b.PublishedDir()); err == nil {
		b.published = filepath.Join(absRoot, target)
	}
	return b, nil
}

// PublishedDir is the stable path of the published repository.
func (b *Builder) PublishedDir() string {
	return filepath.Join(b.root, publishedLink)
}

// DeleteAll starts a fresh staging area, removing leftovers of earlier builds.
// The published repository stays in place until Publish.
func (b *Builder) DeleteAll(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := os.ReadDir(b.root)
	if err != nil {
		return fmt.Errorf("failed to read repo root: %w", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), stagingPrefix) {
			if err := os.RemoveAll(filepath.Join(b.root, e.Name())); err != nil {
				return fmt.Errorf("failed to remove stale staging dir: %w", err)
			}
		}
	}

	staging := filepath.Join(b.root, stagingPrefix+tool.GenerateShortID())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("failed to create staging dir: %w", err)
	}
	b.staging = staging
	b.apps = nil
	return nil
}

// AddApp reads the catalog entry of id and queues it for the index.
func (b *Builder) AddApp(ctx context.Context, id string) error {
	if id == "" || id != filepath.Base(id) || id == "." || id == ".." {
		return fmt.Errorf("invalid application id %q", id)
	}
	dir := filepath.Join(b.appsDir, id)
	data, err := os.ReadFile(filepath.Join(dir, "app.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", types.ErrUnknownApp, id)
		}
		return fmt.Errorf("failed to read app metadata: %w", err)
	}
	var meta AppMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("failed to parse app metadata of %s: %w", id, err)
	}
	if meta.Package == "" {
		return fmt.Errorf("app %s has no package file", id)
	}

	source := filepath.Join(dir, filepath.Base(meta.Package))
	_, size, _, hash, err := tool.GetFileInfoFromPath(source, true)
	if err != nil {
		return fmt.Errorf("package of %s: %w", id, err)
	}
	app := IndexApp{
		ID:          id,
		Name:        meta.Name,
		Summary:     meta.Summary,
		VersionName: meta.VersionName,
		VersionCode: meta.VersionCode,
		ApkName:     fmt.Sprintf("%s_%d%s", id, meta.VersionCode, filepath.Ext(source)),
		Size:        size,
		Hash:        hash,
		HashType:    "sha256",
		source:      source,
	}
	if meta.Name == "" {
		app.Name = id
	}
	if meta.Icon != "" {
		app.Icon = id + filepath.Ext(meta.Icon)
		app.iconSrc = filepath.Join(dir, filepath.Base(meta.Icon))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.staging == "" {
		return fmt.Errorf("no staging area, DeleteAll must run first")
	}
	b.apps = append(b.apps, app)
	return nil
}

// WriteIndex writes the index document addressed at sharingURI.
func (b *Builder) WriteIndex(ctx context.Context, sharingURI string) error {
	b.mu.Lock()
	staging, apps := b.staging, b.apps
	b.mu.Unlock()
	if staging == "" {
		return fmt.Errorf("no staging area, DeleteAll must run first")
	}

	index := Index{
		Repo: IndexRepo{
			Name:      b.repoName,
			Address:   sharingURI,
			Timestamp: time.Now().Unix(),
		},
		Apps: apps,
	}
	if index.Apps == nil {
		index.Apps = []IndexApp{}
	}
	payload, err := sonic.Marshal(&index)
	if err != nil {
		return fmt.Errorf("failed to serialize index: %w", err)
	}
	return os.WriteFile(filepath.Join(staging, IndexFile), payload, 0o644)
}

// WritePackagedIndex packs the index into a zip with a sha256 digest beside it.
func (b *Builder) WritePackagedIndex(ctx context.Context) error {
	b.mu.Lock()
	staging := b.staging
	b.mu.Unlock()

	indexPath := filepath.Join(staging, IndexFile)
	payload, err := os.ReadFile(indexPath)
	if err != nil {
		return fmt.Errorf("failed to read index: %w", err)
	}

	zipPath := filepath.Join(staging, PackagedIndexFile)
	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("failed to create packaged index: %w", err)
	}
	zw := zip.NewWriter(out)
	w, err := zw.Create(IndexFile)
	if err == nil {
		_, err = w.Write(payload)
	}
	if err == nil {
		err = zw.Close()
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write packaged index: %w", err)
	}

	digest, err := tool.HashFile(zipPath)
	if err != nil {
		return err
	}
	return os.WriteFile(zipPath+".sha256", []byte(digest+"  "+PackagedIndexFile+"\n"), 0o644)
}

// LinkPackages hard-links (or copies) every queued package into staging.
func (b *Builder) LinkPackages(ctx context.Context) error {
	b.mu.Lock()
	staging, apps := b.staging, b.apps
	b.mu.Unlock()

	for _, app := range apps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := tool.LinkOrCopyFile(app.source, filepath.Join(staging, app.ApkName)); err != nil {
			return fmt.Errorf("failed to link package of %s: %w", app.ID, err)
		}
	}
	return nil
}

// Publish moves staging into place and atomically repoints the repo symlink.
func (b *Builder) Publish(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.staging == "" {
		return fmt.Errorf("nothing staged to publish")
	}

	name := publishedPrefix + tool.GenerateShortID()
	target := filepath.Join(b.root, name)
	if err := os.Rename(b.staging, target); err != nil {
		return fmt.Errorf("failed to move staging into place: %w", err)
	}

	if err := b.swapLink(name); err != nil {
		// move the build back so Discard removes it
		if rbErr := os.Rename(target, b.staging); rbErr != nil {
			_ = os.RemoveAll(target)
		}
		return err
	}

	previous := b.published
	b.published = target
	b.pubApps = b.apps
	b.staging = ""
	b.apps = nil

	if previous != "" && previous != target {
		if err := os.RemoveAll(previous); err != nil {
			b.logger.Warnf("Failed to remove previous repository %s: %v", previous, err)
		}
	}
	b.logger.Infof("Published repository with %d apps", len(b.pubApps))
	return nil
}

// swapLink points the repo symlink at name.
func (b *Builder) swapLink(name string) error {
	link := b.PublishedDir()
	if info, err := os.Lstat(link); err == nil && info.Mode()&os.ModeSymlink == 0 {
		// a plain directory left from an older layout
		if err := os.RemoveAll(link); err != nil {
			return fmt.Errorf("failed to replace repo dir: %w", err)
		}
	}
	tmpLink := filepath.Join(b.root, "."+name+".link")
	if err := symlink(name, tmpLink); err != nil {
		return fmt.Errorf("failed to create repo link: %w", err)
	}
	if err := os.Rename(tmpLink, link); err != nil {
		_ = os.Remove(tmpLink)
		return fmt.Errorf("failed to swap repo link: %w", err)
	}
	return nil
}

// Discard drops the staging area of a failed or cancelled build.
func (b *Builder) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.staging == "" {
		return
	}
	if err := os.RemoveAll(b.staging); err != nil {
		b.logger.Warnf("Failed to remove staging dir %s: %v", b.staging, err)
	}
	b.staging = ""
	b.apps = nil
}

// CopyIcons copies the icons of the published apps into the published repository.
func (b *Builder) CopyIcons(ctx context.Context) error {
	b.mu.Lock()
	published, apps := b.published, b.pubApps
	b.mu.Unlock()
	if published == "" {
		return nil
	}

	dir := filepath.Join(published, IconsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create icons dir: %w", err)
	}
	var failed []string
	for _, app := range apps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if app.iconSrc == "" {
			continue
		}
		if err := tool.CopyFile(app.iconSrc, filepath.Join(dir, app.Icon)); err != nil {
			b.logger.Debugf("Icon of %s: %v", app.ID, err)
			failed = append(failed, app.ID)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to copy icons of %s", strings.Join(failed, ", "))
	}
	return nil
}
