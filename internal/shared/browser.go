package shared

import (
	"fmt"
	"os/exec"
	"runtime"
)

// BrowserOpener hands a URL to something that can display it to the user.
type BrowserOpener func(url string) error

var getRuntime = func() string { return runtime.GOOS }

// OpenBrowser opens the default system browser to the specified URL.
//
// Supports macOS, Linux/BSD (xdg-open), and Windows platforms.
func OpenBrowser(url string) error {
	var name string
	var args []string
	rt := getRuntime()
	switch rt {
	case "darwin":
		name, args = "open", []string{url}
	case "linux", "freebsd", "openbsd", "netbsd":
		name, args = "xdg-open", []string{url}
	case "windows":
		name, args = "rundll32", []string{"url.dll,FileProtocolHandler", url}
	default:
		return fmt.Errorf("unsupported platform: %s", rt)
	}

	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("failed to open browser: %s not found", name)
	}

	if err := exec.Command(name, args...).Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}

	return nil
}
