package main

import (
	"context"
	"errors"

	"github.com/user/wiki-archiver/internal/repository"
)

const (
	exitOK                = 0
	exitGeneric           = 1
	exitCheckpointCorrupt = 2
	exitRendererInit      = 3
	exitIO                = 4
	exitInterrupted       = 130
)

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, repository.ErrCheckpointCorrupt):
		return exitCheckpointCorrupt
	case errors.Is(err, repository.ErrRendererInit), errors.Is(err, repository.ErrRendererGone):
		return exitRendererInit
	case errors.Is(err, repository.ErrArchiveWrite), errors.Is(err, repository.ErrCheckpointWrite):
		return exitIO
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	default:
		return exitGeneric
	}
}
