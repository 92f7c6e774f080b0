// Package source provides a read-only handle on an OS image source tree.
package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/mattn/go-zglob"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// ShortCommitLength is the number of hex digits in a short commit SHA
const ShortCommitLength = 7

// Dir is a source tree. Reads go through a read-only filesystem rooted at
// the tree, so stages can never modify the caller's files.
type Dir struct {
	path string
	fs   afero.Fs
}

// Open returns a read-only handle on the directory at path
func Open(p string) (*Dir, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source path %s: %w", p, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("source directory %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source path %s is not a directory", abs)
	}
	fsys := afero.NewReadOnlyFs(afero.NewBasePathFs(afero.NewOsFs(), abs))
	return &Dir{path: abs, fs: fsys}, nil
}

// NewDir wraps an existing filesystem whose root is the tree.
// path is reported to tools that need a host directory (mounts, build context).
func NewDir(p string, fsys afero.Fs) *Dir {
	return &Dir{path: p, fs: fsys}
}

// Path returns the host path of the tree
func (d *Dir) Path() string {
	return d.path
}

// HostPath returns the host path of a slash-separated path inside the tree
func (d *Dir) HostPath(rel string) string {
	return filepath.Join(d.path, filepath.FromSlash(rel))
}

// Fs returns the tree's filesystem
func (d *Dir) Fs() afero.Fs {
	return d.fs
}

// ReadFile returns the content of a file inside the tree
func (d *Dir) ReadFile(rel string) ([]byte, error) {
	data, err := afero.ReadFile(d.fs, clean(rel))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rel, err)
	}
	return data, nil
}

// Exists reports whether rel exists inside the tree
func (d *Dir) Exists(rel string) bool {
	ok, err := afero.Exists(d.fs, clean(rel))
	return err == nil && ok
}

// IsDir reports whether rel is a directory inside the tree
func (d *Dir) IsDir(rel string) bool {
	ok, err := afero.IsDir(d.fs, clean(rel))
	return err == nil && ok
}

// Sub returns the subtree rooted at rel
func (d *Dir) Sub(rel string) (*Dir, error) {
	if !d.IsDir(rel) {
		return nil, fmt.Errorf("%s is not a directory in %s", rel, d.path)
	}
	return &Dir{
		path: d.HostPath(rel),
		fs:   afero.NewBasePathFs(d.fs, clean(rel)),
	}, nil
}

// Glob returns the files matching pattern, relative to the tree root,
// slash-separated and sorted. "**" matches any number of directories.
func (d *Dir) Glob(pattern string) ([]string, error) {
	pattern = "/" + strings.TrimPrefix(path.Clean("/"+pattern), "/")
	var matches []string
	err := afero.Walk(d.fs, string(filepath.Separator), func(name string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		name = "/" + strings.TrimPrefix(filepath.ToSlash(name), "/")
		ok, err := zglob.Match(pattern, name)
		if err != nil {
			return fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		if ok {
			matches = append(matches, strings.TrimPrefix(name, "/"))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// ShortCommit returns the abbreviated HEAD commit of the git repository
// containing the tree. ok is false when the tree is not in a repository
// or HEAD cannot be resolved.
func (d *Dir) ShortCommit() (commit string, ok bool) {
	repo, err := git.PlainOpenWithOptions(d.path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if !errors.Is(err, git.ErrRepositoryNotExists) {
			logrus.Debugf("Cannot open git repository at %s: %v", d.path, err)
		}
		return "", false
	}
	head, err := repo.Head()
	if err != nil {
		return "", false
	}
	hash := head.Hash().String()
	if len(hash) < ShortCommitLength {
		return "", false
	}
	return hash[:ShortCommitLength], true
}

// clean roots rel at the tree so it resolves the same way on every afero.Fs
func clean(rel string) string {
	return filepath.Join(string(filepath.Separator), filepath.FromSlash(rel))
}
