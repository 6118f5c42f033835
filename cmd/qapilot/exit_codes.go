package main

import (
	"errors"

	qerrors "github.com/odvcencio/qapilot/pkg/errors"
)

// Process exit codes.
const (
	exitOK       = 0
	exitFailure  = 1
	exitConfig   = 2
	exitIssues   = 3
	exitFatalRun = 4
)

type exitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e exitError) Unwrap() error {
	return e.err
}

func (e exitError) ExitCode() int {
	if e.code == 0 {
		return exitFailure
	}
	return e.code
}

func withExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return exitError{code: code, err: err}
}

func exitCodeForError(err error) int {
	if err == nil {
		return exitOK
	}
	var coded exitCoder
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	switch {
	case qerrors.IsCode(err, qerrors.ErrCodeRunnerFatal):
		return exitFatalRun
	case qerrors.IsCode(err, qerrors.ErrCodeConfigLoad),
		qerrors.IsCode(err, qerrors.ErrCodeConfigParse),
		qerrors.IsCode(err, qerrors.ErrCodeConfigInvalid):
		return exitConfig
	}
	return exitFailure
}
