package backend

import (
	"errors"

	"github.com/victorarias/c0lor-mem/internal/protocol"
)

var (
	ErrNoFreePort            = errors.New("no free port in range")
	ErrInvalidPortRange      = errors.New("invalid port range")
	ErrBackendLaunchFailed   = errors.New("backend launch failed")
	ErrBackendStartupTimeout = errors.New("backend did not become healthy")
	ErrAlreadyRunning        = errors.New("backend already running")
	ErrBackendNotReady       = protocol.ErrBackendNotReady
)
