// Package config provides configuration management for dudley-ci.
// This file contains helpers for locating the podman binary and checking its version.
package config

import (
	"fmt"
	"os/exec"
	"strings"
	"unicode"
)

// FindPodmanBinary resolves the runtime.podman setting to a binary.
// "auto" (or empty) searches PATH; any other value is used as given.
// Returns the bare name as fallback so the eventual exec error names the binary.
func FindPodmanBinary(setting string) string {
	if setting != "" && setting != "auto" {
		return setting
	}
	if path, err := exec.LookPath(BinaryPodman); err == nil {
		return path
	}
	return BinaryPodman
}

// extractSemver extracts a version token from a string such as
// "podman version 5.2.3" or "vfkit v0.6.3". The leading "v" is optional.
func extractSemver(s string) string {
	for _, part := range strings.Fields(s) {
		clean := strings.TrimSuffix(part, ",")
		clean = strings.TrimSuffix(clean, ":")
		digits := strings.TrimPrefix(clean, "v")
		// Match "N.N..." so words like "version" are skipped
		if len(digits) >= 3 && unicode.IsDigit(rune(digits[0])) && strings.Contains(digits, ".") {
			return clean
		}
	}
	return ""
}

// CompareVersions compares two semantic version strings (e.g. "v4.0.0", "5.2.3").
// Pre-release suffixes are ignored.
// Returns: -1 if a < b, 0 if a == b, 1 if a > b.
func CompareVersions(a, b string) int {
	a = strings.TrimPrefix(a, "v")
	b = strings.TrimPrefix(b, "v")

	aParts := strings.Split(a, ".")
	bParts := strings.Split(b, ".")

	for i := 0; i < 3; i++ {
		var aNum, bNum int
		if i < len(aParts) {
			fmt.Sscanf(aParts[i], "%d", &aNum)
		}
		if i < len(bParts) {
			fmt.Sscanf(bParts[i], "%d", &bNum)
		}
		if aNum < bNum {
			return -1
		}
		if aNum > bNum {
			return 1
		}
	}
	return 0
}

// CheckPodmanVersion validates that a reported podman version meets MinPodmanVersion.
// The argument is the raw "podman --version" output or a bare version.
func CheckPodmanVersion(reported string) error {
	version := extractSemver(reported)
	if version == "" {
		return fmt.Errorf("podman version cannot be determined from %q", strings.TrimSpace(reported))
	}
	if CompareVersions(version, MinPodmanVersion) < 0 {
		return fmt.Errorf("podman %s is too old (required: >=%s).\n"+
			"  Update podman from your distribution or https://podman.io/docs/installation",
			version, MinPodmanVersion)
	}
	return nil
}
