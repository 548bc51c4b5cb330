package process

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"
)

// JavaHomeEnv is consulted when no explicit Java binary is configured.
const JavaHomeEnv = "JAVA_HOME"

// FindJava resolves the Java binary: an explicit path wins, then
// $JAVA_HOME/bin/java, then "java" from PATH.
func FindJava(explicit string) (string, error) {
	if explicit != "" {
		return exec.LookPath(explicit)
	}
	if home := os.Getenv(JavaHomeEnv); home != "" {
		candidate := filepath.Join(home, "bin", "java")
		if _, err := exec.LookPath(candidate); err == nil {
			return candidate, nil
		}
	}
	return exec.LookPath("java")
}

// JavaAvailable reports whether FindJava would succeed.
func JavaAvailable(explicit string) bool {
	_, err := FindJava(explicit)
	return err == nil
}

var javaVersionRe = regexp.MustCompile(`version "([^"]+)"`)

// JavaVersion runs "java -version" and returns the quoted version
// string, e.g. "17.0.9" or "1.8.0_392".
func JavaVersion(ctx context.Context, javaPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// java prints its version banner on stderr.
	out, err := exec.CommandContext(ctx, javaPath, "-version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("java -version failed: %w", err)
	}
	return ParseJavaVersion(out)
}

// ParseJavaVersion extracts the version from a "java -version" banner.
func ParseJavaVersion(banner []byte) (string, error) {
	m := javaVersionRe.FindSubmatch(banner)
	if m == nil {
		first, _, _ := bytes.Cut(banner, []byte("\n"))
		return "", fmt.Errorf("unrecognized java version banner: %q", first)
	}
	return string(m[1]), nil
}
