package ci

import (
	"fmt"
	"os"
	"strings"

	dockercmd "github.com/openshift/imagebuilder/dockerfile/command"
	"github.com/openshift/imagebuilder/dockerfile/parser"

	"github.com/joshyorko/dudley-ci/internal/source"
)

// CheckContainerfile returns the content of the build file named by
// containerfile inside src, byte for byte
func CheckContainerfile(src *source.Dir, containerfile string) (string, error) {
	if !src.Exists(containerfile) {
		return "", fmt.Errorf("%s not found in %s", containerfile, src.Path())
	}
	data, err := src.ReadFile(containerfile)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseBaseImages extracts base image references from Containerfile content.
// FROM instructions of every stage are returned in order. Variable
// references are expanded from ARG defaults declared before the FROM;
// images that cannot be resolved, scratch, and references to earlier
// stages are skipped.
func ParseBaseImages(content string) ([]string, error) {
	result, err := parser.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse Containerfile: %w", err)
	}

	args := map[string]string{}
	stages := map[string]bool{}
	images := []string{}

	for _, child := range result.AST.Children {
		switch child.Value {
		case dockercmd.Arg:
			for n := child.Next; n != nil; n = n.Next {
				name, value, ok := strings.Cut(n.Value, "=")
				if !ok {
					continue
				}
				args[name] = strings.Trim(value, `"'`)
			}
		case dockercmd.From:
			if child.Next == nil {
				continue
			}
			image := os.Expand(child.Next.Value, func(key string) string {
				return args[key]
			})
			skip := image == "" || strings.Contains(image, "$") ||
				image == "scratch" || stages[strings.ToLower(image)]
			if alias := child.Next.Next; alias != nil && strings.EqualFold(alias.Value, "as") && alias.Next != nil {
				stages[strings.ToLower(alias.Next.Value)] = true
			}
			if !skip {
				images = append(images, image)
			}
		}
	}
	return images, nil
}

// ContainsBootcLint checks if the given content contains bootc container lint pattern
// This is a pure function for testing purposes
func ContainsBootcLint(content string) bool {
	lowerContent := strings.ToLower(content)
	return strings.Contains(lowerContent, "bootc container lint") ||
		strings.Contains(lowerContent, "bootc-container-lint")
}
