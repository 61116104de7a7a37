package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/netbirdio/updater/util"
)

const (
	resultFile = "result.json"
)

// Result is the outcome of the last install, read back by the restarted process
type Result struct {
	Success    bool
	Version    string
	Error      string
	ExecutedAt time.Time
}

// ResultHandler handles reading and writing install results
type ResultHandler struct {
	resultFile string
}

// NewResultHandler creates a handler storing "result.json" in the given directory
func NewResultHandler(dir string) *ResultHandler {
	return &ResultHandler{
		resultFile: filepath.Join(dir, resultFile),
	}
}

// Write writes the install result, replacing the file atomically
func (rh *ResultHandler) Write(result Result) error {
	log.Infof("write out installer result to: %s", rh.resultFile)
	if err := util.WriteJson(context.Background(), rh.resultFile, result); err != nil {
		log.Errorf("failed to write installer result: %v", err)
		return err
	}
	return nil
}

// Consume returns the stored result and removes it. ok is false when no
// install ran since the last call.
func (rh *ResultHandler) Consume() (result Result, ok bool, err error) {
	if _, err := util.ReadJson(rh.resultFile, &result); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{}, false, nil
		}
		return Result{}, false, fmt.Errorf("invalid result format: %w", err)
	}

	if err := rh.Cleanup(); err != nil {
		log.Warnf("failed to cleanup result file: %v", err)
	}
	return result, true, nil
}

// Cleanup removes the result file if it exists
func (rh *ResultHandler) Cleanup() error {
	if err := util.RemoveJson(rh.resultFile); err != nil {
		return err
	}
	log.Debugf("delete installer result file: %s", rh.resultFile)
	return nil
}
