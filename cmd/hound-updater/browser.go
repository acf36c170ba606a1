// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// openInBrowser hands url to the platform's default handler without waiting
// for the browser to exit. The launcher outlives the command context.
func openInBrowser(_ context.Context, url string) error {
	var c *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		c = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		c = exec.Command("open", url)
	default:
		c = exec.Command("xdg-open", url)
	}
	if err := c.Start(); err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}
	go func() { _ = c.Wait() }()
	return nil
}
