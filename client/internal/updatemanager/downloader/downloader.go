// Package downloader fetches a discovered release asset into a staging directory
// and reports progress while doing so.
package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/creativeprojects/go-selfupdate"
	log "github.com/sirupsen/logrus"
)

// Staged describes a downloaded release ready for install
type Staged struct {
	Version   string `json:"version"`
	Path      string `json:"path"`
	AssetName string `json:"assetName"`
}

// Downloader downloads the release found for a version. onProgress receives
// percentages in [0, 100] and is called with 0 before any data is transferred.
type Downloader interface {
	Download(ctx context.Context, version string, onProgress func(float64)) (Staged, error)
}

// ReleaseLookup returns releases found by an earlier check
type ReleaseLookup interface {
	Release(version string) (*selfupdate.Release, bool)
	Source() selfupdate.Source
}

// SelfUpdate downloads release assets through the go-selfupdate source
type SelfUpdate struct {
	releases  ReleaseLookup
	validator selfupdate.Validator
	dir       string
}

// NewSelfUpdate creates a downloader staging files in dir
func NewSelfUpdate(releases ReleaseLookup, validator selfupdate.Validator, dir string) *SelfUpdate {
	return &SelfUpdate{
		releases:  releases,
		validator: validator,
		dir:       dir,
	}
}

// Download fetches the asset of version into the staging directory
func (d *SelfUpdate) Download(ctx context.Context, version string, onProgress func(float64)) (Staged, error) {
	onProgress(0)

	rel, ok := d.releases.Release(version)
	if !ok {
		return Staged{}, fmt.Errorf("no release known for version %s", version)
	}

	if err := os.MkdirAll(d.dir, 0o750); err != nil {
		return Staged{}, fmt.Errorf("create staging dir %s: %w", d.dir, err)
	}

	tmp, err := os.CreateTemp(d.dir, "download-*.part")
	if err != nil {
		return Staged{}, fmt.Errorf("create staging file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err := os.Remove(tmpName); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warnf("failed to remove %s: %v", tmpName, err)
		}
	}()

	if err := d.fetch(ctx, rel, tmp, onProgress); err != nil {
		_ = tmp.Close()
		return Staged{}, err
	}
	if err := tmp.Close(); err != nil {
		return Staged{}, fmt.Errorf("close staging file: %w", err)
	}

	if err := d.validate(ctx, rel, tmpName); err != nil {
		return Staged{}, err
	}

	dst := filepath.Join(d.dir, version+"-"+filepath.Base(rel.AssetName))
	if err := os.Rename(tmpName, dst); err != nil {
		return Staged{}, fmt.Errorf("move %s to %s: %w", tmpName, dst, err)
	}

	onProgress(100)
	log.Infof("downloaded update %s to %s", version, dst)

	return Staged{
		Version:   version,
		Path:      dst,
		AssetName: rel.AssetName,
	}, nil
}

func (d *SelfUpdate) fetch(ctx context.Context, rel *selfupdate.Release, out io.Writer, onProgress func(float64)) error {
	body, err := d.releases.Source().DownloadReleaseAsset(ctx, rel, rel.AssetID)
	if err != nil {
		return fmt.Errorf("download asset %s: %w", rel.AssetName, err)
	}
	defer func() {
		if cerr := body.Close(); cerr != nil {
			log.Warnf("error closing asset body: %v", cerr)
		}
	}()

	reader := &progressReader{
		r:          body,
		total:      int64(rel.AssetByteSize),
		onProgress: onProgress,
	}
	if _, err := io.Copy(out, reader); err != nil {
		return fmt.Errorf("write asset %s: %w", rel.AssetName, err)
	}
	return nil
}

func (d *SelfUpdate) validate(ctx context.Context, rel *selfupdate.Release, path string) error {
	if d.validator == nil || rel.ValidationAssetID <= 0 {
		return nil
	}

	body, err := d.releases.Source().DownloadReleaseAsset(ctx, rel, rel.ValidationAssetID)
	if err != nil {
		return fmt.Errorf("download validation asset: %w", err)
	}
	defer body.Close()

	var validation bytes.Buffer
	if _, err := io.Copy(&validation, body); err != nil {
		return fmt.Errorf("read validation asset: %w", err)
	}

	asset, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read staged asset: %w", err)
	}

	if err := d.validator.Validate(rel.AssetName, asset, validation.Bytes()); err != nil {
		return fmt.Errorf("validate %s: %w", rel.AssetName, err)
	}
	return nil
}

type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	onProgress func(float64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 && n > 0 {
		p.onProgress(float64(p.read) * 100 / float64(p.total))
	}
	return n, err
}
