// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/hound-tools/updater/internal/config"
	"github.com/hound-tools/updater/internal/issue"
	"github.com/hound-tools/updater/internal/selfupdate"
	"github.com/hound-tools/updater/pkg/pkgindex"
)

const (
	// exitUserError covers failures the user can fix: bad config, missing
	// releases, a host that would not close.
	exitUserError = 1
	// exitUnexpected covers network, filesystem and other transient failures.
	exitUnexpected = 2
	// exitInterrupted matches the shell convention for SIGINT.
	exitInterrupted = 130
)

// errUnknownVersion is returned when no installed host version was configured.
var errUnknownVersion = errors.New("installed host version is unknown")

// ExitError signals a non-zero exit code without forcing os.Exit in RunE handlers.
type ExitError struct {
	Code int
	Err  error
}

// Error returns the error message for ExitError.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// classifyExitCode maps an error to the process exit code.
func classifyExitCode(err error) int {
	var rateErr *selfupdate.RateLimitError
	switch {
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	case errors.Is(err, os.ErrPermission),
		errors.Is(err, selfupdate.ErrReleaseNotFound),
		errors.Is(err, selfupdate.ErrNoAssets),
		errors.Is(err, selfupdate.ErrHostRunning),
		errors.Is(err, selfupdate.ErrInvalidVersion),
		errors.Is(err, selfupdate.ErrRefNotFound),
		errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, errUnknownVersion),
		errors.Is(err, errIDNotFound),
		errors.Is(err, errInvalidID),
		errors.As(err, &rateErr):
		return exitUserError
	}

	var ae *issue.ActionableError
	if errors.As(err, &ae) && ae.Issue == issue.ConfigLoadFailedId {
		return exitUserError
	}
	return exitUnexpected
}

// issueFor picks the catalog entry explaining err, or 0 when none applies.
func issueFor(err error) issue.Id {
	var ae *issue.ActionableError
	if errors.As(err, &ae) && ae.Issue != 0 {
		return ae.Issue
	}

	var (
		rateErr *selfupdate.RateLimitError
		netErr  net.Error
	)
	switch {
	case errors.As(err, &rateErr):
		return issue.RateLimitedId
	case errors.Is(err, errUnknownVersion):
		return issue.UnknownVersionId
	case errors.Is(err, selfupdate.ErrReleaseNotFound):
		return issue.ReleaseNotFoundId
	case errors.Is(err, selfupdate.ErrNoAssets):
		return issue.NoMatchingAssetId
	case errors.Is(err, selfupdate.ErrChecksumMismatch):
		return issue.ChecksumMismatchId
	case errors.Is(err, selfupdate.ErrHostRunning):
		return issue.HostStillRunningId
	case errors.Is(err, os.ErrPermission):
		return issue.PermissionDeniedId
	case errors.Is(err, selfupdate.ErrExtract):
		return issue.ExtractFailedId
	case errors.Is(err, selfupdate.ErrRelaunch):
		return issue.RelaunchFailedId
	case errors.Is(err, pkgindex.ErrBadFormat), errors.Is(err, pkgindex.ErrSizeOverflow):
		return issue.IndexCorruptId
	case errors.As(err, &netErr):
		return issue.NetworkFailedId
	}
	return 0
}

// formatErrorForDisplay renders err for stderr. ActionableErrors show their
// suggestions; verbose mode adds the cause chain.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ErrorStyle.Render("Error: ") + ae.Format(verbose)
	}
	return ErrorStyle.Render("Error: ") + err.Error()
}
