// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/hound-tools/updater/cmd/hound-updater"

func main() {
	cmd.Execute()
}
