package common

import "errors"

var (
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrNoCurrentStores    = errors.New("no activated store version")
	ErrStaleVersion       = errors.New("version must be greater than the current version")
	ErrInstallInProgress  = errors.New("install already in progress")
	ErrManifestFetch      = errors.New("manifest asset could not be fetched")
	ErrDeferredNotFound   = errors.New("deferred write not found")
	ErrReplayRejected     = errors.New("replay rejected by upstream")
	ErrUnknownEvent       = errors.New("no handler registered for event")
)
