package updatemanager

import "errors"

var (
	// ErrCheckInProgress is returned when a check is requested while another one runs
	ErrCheckInProgress = errors.New("update check already in progress")
	// ErrDownloadInProgress is returned when a download is requested while another one runs
	ErrDownloadInProgress = errors.New("update download already in progress")
	// ErrNoUpdateDiscovered is returned by download or install when there is nothing to act on
	ErrNoUpdateDiscovered = errors.New("no update available")
	// ErrAlreadyInstalling is returned once an install has started
	ErrAlreadyInstalling = errors.New("update install already started")
)
