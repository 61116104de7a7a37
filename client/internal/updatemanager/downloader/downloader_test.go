package downloader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	assets map[int64][]byte
	err    error
}

func (s *fakeSource) ListReleases(context.Context, selfupdate.Repository) ([]selfupdate.SourceRelease, error) {
	return nil, nil
}

func (s *fakeSource) DownloadReleaseAsset(_ context.Context, _ *selfupdate.Release, assetID int64) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	data, ok := s.assets[assetID]
	if !ok {
		return nil, errors.New("asset not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type fakeLookup struct {
	source   *fakeSource
	releases map[string]*selfupdate.Release
}

func (l *fakeLookup) Release(v string) (*selfupdate.Release, bool) {
	rel, ok := l.releases[v]
	return rel, ok
}

func (l *fakeLookup) Source() selfupdate.Source {
	return l.source
}

func TestSelfUpdate_Download(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 64*1024)
	lookup := &fakeLookup{
		source: &fakeSource{assets: map[int64][]byte{7: payload}},
		releases: map[string]*selfupdate.Release{
			"1.2.3": {AssetID: 7, AssetName: "updater_linux_amd64.tar.gz", AssetByteSize: len(payload)},
		},
	}
	dir := t.TempDir()
	d := NewSelfUpdate(lookup, nil, dir)

	var progress []float64
	staged, err := d.Download(context.Background(), "1.2.3", func(p float64) {
		progress = append(progress, p)
	})
	require.NoError(t, err)

	assert.Equal(t, "1.2.3", staged.Version)
	assert.Equal(t, filepath.Join(dir, "1.2.3-updater_linux_amd64.tar.gz"), staged.Path)
	assert.Equal(t, "updater_linux_amd64.tar.gz", staged.AssetName)

	data, err := os.ReadFile(staged.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	require.NotEmpty(t, progress)
	assert.Equal(t, float64(0), progress[0])
	assert.Equal(t, float64(100), progress[len(progress)-1])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must be cleaned up")
}

func TestSelfUpdate_DownloadFailure(t *testing.T) {
	lookup := &fakeLookup{
		source: &fakeSource{err: errors.New("connection reset")},
		releases: map[string]*selfupdate.Release{
			"1.2.3": {AssetID: 7, AssetName: "updater_linux_amd64.tar.gz", AssetByteSize: 10},
		},
	}
	dir := t.TempDir()
	d := NewSelfUpdate(lookup, nil, dir)

	var calls int
	_, err := d.Download(context.Background(), "1.2.3", func(float64) { calls++ })
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "progress starts at zero even when the download fails")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSelfUpdate_UnknownVersion(t *testing.T) {
	d := NewSelfUpdate(&fakeLookup{source: &fakeSource{}}, nil, t.TempDir())
	_, err := d.Download(context.Background(), "9.9.9", func(float64) {})
	assert.Error(t, err)
}
