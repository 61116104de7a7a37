package checker

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/creativeprojects/go-selfupdate"
)

type fakeAsset struct {
	id   int64
	name string
	size int
}

func (a *fakeAsset) GetID() int64                  { return a.id }
func (a *fakeAsset) GetName() string               { return a.name }
func (a *fakeAsset) GetSize() int                  { return a.size }
func (a *fakeAsset) GetBrowserDownloadURL() string { return "https://example.com/" + a.name }

type fakeRelease struct {
	id         int64
	tag        string
	draft      bool
	prerelease bool
	assets     []selfupdate.SourceAsset
}

func (r *fakeRelease) GetID() int64                        { return r.id }
func (r *fakeRelease) GetTagName() string                  { return r.tag }
func (r *fakeRelease) GetDraft() bool                      { return r.draft }
func (r *fakeRelease) GetPrerelease() bool                 { return r.prerelease }
func (r *fakeRelease) GetPublishedAt() time.Time           { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
func (r *fakeRelease) GetReleaseNotes() string             { return "" }
func (r *fakeRelease) GetName() string                     { return r.tag }
func (r *fakeRelease) GetURL() string                      { return "https://example.com/releases/" + r.tag }
func (r *fakeRelease) GetAssets() []selfupdate.SourceAsset { return r.assets }

func release(id int64, tag string) *fakeRelease {
	return &fakeRelease{
		id:  id,
		tag: tag,
		assets: []selfupdate.SourceAsset{
			&fakeAsset{id: id * 10, name: "updater_linux_amd64.tar.gz", size: 1024},
		},
	}
}

type fakeSource struct {
	releases []selfupdate.SourceRelease
	err      error
	calls    int
}

func (s *fakeSource) ListReleases(context.Context, selfupdate.Repository) ([]selfupdate.SourceRelease, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.releases, nil
}

func (s *fakeSource) DownloadReleaseAsset(context.Context, *selfupdate.Release, int64) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}
