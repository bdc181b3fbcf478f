// Package dirs provides standard directory resolution for backendshell.
// It finds the bundled resource root next to the executable and handles XDG
// base directories with appropriate fallbacks for platforms where XDG isn't
// fully supported (e.g., macOS, Windows).
package dirs

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
)

// AppName names the per-user directories.
const AppName = "backendshell"

// ResourceRoot returns the directory holding bundled application resources.
// Priority: $BACKENDSHELL_RESOURCE_DIR > <bundle>/Contents/Resources (macOS)
// > <exe dir>/resources > <exe dir>
func ResourceRoot() (string, error) {
	if v := os.Getenv("BACKENDSHELL_RESOURCE_DIR"); v != "" {
		return filepath.Abs(v)
	}

	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return resourceRootFor(filepath.Dir(exe)), nil
}

// resourceRootFor picks the resource directory for an executable living in exeDir.
func resourceRootFor(exeDir string) string {
	// An app bundle keeps its executable in Contents/MacOS.
	if runtime.GOOS == "darwin" && filepath.Base(exeDir) == "MacOS" {
		candidate := filepath.Join(filepath.Dir(exeDir), "Resources")
		if isDir(candidate) {
			return candidate
		}
	}

	if candidate := filepath.Join(exeDir, "resources"); isDir(candidate) {
		return candidate
	}
	return exeDir
}

// DataDir returns the directory the backend keeps its working storage in.
// Priority: $BACKENDSHELL_DATA_DIR > $XDG_DATA_HOME/backendshell > platform default
func DataDir() string {
	if v := os.Getenv("BACKENDSHELL_DATA_DIR"); v != "" {
		return v
	}
	if base := os.Getenv("XDG_DATA_HOME"); base != "" {
		return filepath.Join(base, AppName)
	}
	switch runtime.GOOS {
	case "windows":
		if base := os.Getenv("LOCALAPPDATA"); base != "" {
			return filepath.Join(base, AppName, "data")
		}
	case "darwin":
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, "Library", "Application Support", AppName)
		}
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".local", "share", AppName)
	}
	return filepath.Join(os.TempDir(), AppName+"-data")
}

// ConfigDir returns the directory holding the per-user shell.toml.
// Priority: $XDG_CONFIG_HOME/backendshell > os.UserConfigDir()/backendshell
func ConfigDir() string {
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, AppName)
	}
	if base, err := os.UserConfigDir(); err == nil {
		return filepath.Join(base, AppName)
	}
	return ""
}

// RuntimeDir returns the directory for ephemeral runtime data (readiness files).
// Priority: $BACKENDSHELL_RUNTIME_DIR > best available runtime dir > $TMPDIR/backendshell-$USER
func RuntimeDir() string {
	if v := os.Getenv("BACKENDSHELL_RUNTIME_DIR"); v != "" {
		return v
	}

	if base := findRuntimeBase(); base != "" {
		return filepath.Join(base, AppName)
	}

	// Fall back to temp dir with username suffix for uniqueness
	username := "unknown"
	if u, err := user.Current(); err == nil {
		// Windows usernames look like DOMAIN\user.
		username = strings.ReplaceAll(u.Username, `\`, "_")
	}
	return filepath.Join(os.TempDir(), AppName+"-"+username)
}

// findRuntimeBase finds the best available runtime directory base.
// On Linux this is typically /run/user/$UID, on macOS/BSD we check candidates.
func findRuntimeBase() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	if runtime.GOOS == "windows" {
		return ""
	}

	currentUser, err := user.Current()
	if err != nil {
		return ""
	}

	candidates := []string{
		filepath.Join("/run/user", currentUser.Uid),
		filepath.Join("/var/run/user", currentUser.Uid),
	}

	// FreeBSD uses a different convention
	if runtime.GOOS == "freebsd" {
		candidates = append([]string{
			filepath.Join("/var/run/xdg", currentUser.Username),
		}, candidates...)
	}

	for _, dir := range candidates {
		if isDir(dir) {
			return dir
		}
	}

	return ""
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
