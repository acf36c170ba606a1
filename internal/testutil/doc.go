// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers shared by the updater's tests: a fake
// GitHub API server, archive builders, a controllable clock, and Must*
// wrappers that fail the test instead of returning errors.
package testutil
