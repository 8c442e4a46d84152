package ota

import "errors"

// Sentinel kinds for OTA errors.
var (
	ErrDuplicateJob      = errors.New("deployment job already handled")
	ErrJobFailed         = errors.New("deployment job failed")
	ErrBusy              = errors.New("deployment queue full")
	ErrChecksumMismatch  = errors.New("package checksum mismatch")
	ErrUnsupportedScheme = errors.New("unsupported package url scheme")
	ErrDownloadFailed    = errors.New("package download failed")
)
