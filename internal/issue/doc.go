// SPDX-License-Identifier: MPL-2.0

// Package issue provides user-facing errors for the updater CLI.
//
// ActionableError carries the failed operation, the resource involved and
// remediation hints. The Markdown issue catalog gives longer guidance for
// common failures and is rendered for the terminal with glamour.
package issue
