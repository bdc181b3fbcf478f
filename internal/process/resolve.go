package process

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

// DefaultBackendName is the base name of the bundled backend executable.
const DefaultBackendName = "server"

// ExecutableName returns name with the platform's executable suffix.
func ExecutableName(name string) string {
	if runtime.GOOS == "windows" && filepath.Ext(name) != ".exe" {
		return name + ".exe"
	}
	return name
}

// ResolveBackendPath returns the absolute path of the backend executable
// under resourceRoot/bin. The file must exist, be a regular file and be
// executable; otherwise the error wraps ErrNotFound.
func ResolveBackendPath(resourceRoot, name string) (string, error) {
	if name == "" {
		name = DefaultBackendName
	}
	root, err := filepath.Abs(resourceRoot)
	if err != nil {
		return "", &PathError{Path: resourceRoot, Err: err}
	}
	path := filepath.Join(root, "bin", ExecutableName(name))

	info, err := os.Stat(path)
	if err != nil {
		return "", &PathError{Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return "", &PathError{Path: path, Err: errors.New("not a regular file")}
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return "", &PathError{Path: path, Err: errors.New("not executable")}
	}
	return path, nil
}
