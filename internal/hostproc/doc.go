// SPDX-License-Identifier: MPL-2.0

// Package hostproc finds, terminates, and relaunches the host application
// whose files the updater replaces. Process enumeration uses gopsutil so the
// same code path works on Windows, macOS, and Linux.
package hostproc
