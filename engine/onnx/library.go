package onnx

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// detArch names a platform the way the runtime release archives do.
func detArch(system, arch string) (string, error) {
	switch arch {
	case "amd64":
		return system + "-x64", nil
	case "386":
		return system + "-x86", nil
	case "arm64":
		return system + "-arm64", nil
	default:
		return "", fmt.Errorf("architecture %s not supported", arch)
	}
}

// Platform returns e.g. "linux-x64" for the given GOOS/GOARCH pair.
func Platform(system, arch string) (string, error) {
	switch system {
	case "windows", "linux", "darwin":
		return detArch(system, arch)
	default:
		return "", fmt.Errorf("operating system %s not supported", system)
	}
}

// LibraryName is the ONNX Runtime shared library file name on system.
func LibraryName(system string) string {
	switch system {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// FindSharedLibrary resolves the ONNX Runtime library. An explicit path is
// returned as is when it exists; otherwise the executable directory and the
// working directory are searched, each with lib/, src/ and lib/<platform>/
// children, ascending up to ten parents.
func FindSharedLibrary(explicit string) (string, error) {
	if explicit != "" {
		if fileExists(explicit) {
			return explicit, nil
		}
		return "", fmt.Errorf("onnxruntime library %q not found", explicit)
	}
	var starts []string
	if exePath, err := os.Executable(); err == nil {
		starts = append(starts, filepath.Dir(exePath))
	}
	if cwd, err := os.Getwd(); err == nil {
		starts = append(starts, cwd)
	}
	platform, _ := Platform(runtime.GOOS, runtime.GOARCH)
	return searchLocations(starts, LibraryName(runtime.GOOS), platform)
}

func searchLocations(starts []string, name, platform string) (string, error) {
	var tried []string
	checked := make(map[string]bool)
	for _, start := range starts {
		cur := start
		for i := 0; i < 10; i++ {
			if cur == "" || checked[cur] {
				break
			}
			checked[cur] = true
			dirs := []string{cur, filepath.Join(cur, "lib"), filepath.Join(cur, "src")}
			if platform != "" {
				dirs = append(dirs, filepath.Join(cur, "lib", platform))
			}
			for _, d := range dirs {
				tried = append(tried, d)
				if p := filepath.Join(d, name); fileExists(p) {
					return p, nil
				}
				if m := globFirst(d, name+".*"); m != "" {
					return m, nil
				}
			}
			parent := filepath.Dir(cur)
			if parent == cur {
				break
			}
			cur = parent
		}
	}
	return "", fmt.Errorf("onnxruntime library %q not found; tried:\n  %s", name, strings.Join(tried, "\n  "))
}

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

func globFirst(dir, pat string) string {
	ms, err := filepath.Glob(filepath.Join(dir, pat))
	if err != nil || len(ms) == 0 {
		return ""
	}
	return ms[0]
}
