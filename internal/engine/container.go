// Package engine runs chained commands inside disposable podman containers.
//
// A Container is an immutable description: an image, mounts, environment
// and an ordered list of execs. Nothing runs until a Sync, Stdout or Outputs call,
// at which point one detached session container is started, each exec runs
// in order via "podman exec", and the session is removed again.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/joshyorko/dudley-ci/internal/config"
	"github.com/joshyorko/dudley-ci/internal/podman"
)

// Image identifies a container image in local storage
type Image struct {
	// Ref is the reference the image is tagged with (e.g. localhost/name:tag)
	Ref string `json:"ref"`
	// ID is the image ID reported by the build, if known
	ID string `json:"id,omitempty"`
}

func (i *Image) String() string {
	return i.Ref
}

// Exec is one command run inside the session container
type Exec struct {
	// Name labels the step in errors and logs
	Name string
	Args []string
}

// ExecError reports which exec of a session failed
type ExecError struct {
	Name string
	Args []string
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s (%s) failed: %v", e.Name, strings.Join(e.Args, " "), e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// Container describes a session container and the commands to run in it.
// With* methods return a new Container and never modify the receiver.
type Container struct {
	image   string
	workdir string
	mounts  []podman.VolumeMapping
	env     map[string]string
	execs   []Exec
}

// From starts a container description from an image reference
func From(image string) *Container {
	return &Container{image: image}
}

// Image returns the image the session runs
func (c *Container) Image() string {
	return c.image
}

// Execs returns a copy of the queued execs
func (c *Container) Execs() []Exec {
	return append([]Exec(nil), c.execs...)
}

func (c *Container) clone() *Container {
	cp := &Container{
		image:   c.image,
		workdir: c.workdir,
		mounts:  append([]podman.VolumeMapping(nil), c.mounts...),
		execs:   append([]Exec(nil), c.execs...),
	}
	if c.env != nil {
		cp.env = make(map[string]string, len(c.env))
		for k, v := range c.env {
			cp.env[k] = v
		}
	}
	return cp
}

// WithMountedDirectory mounts a host directory at target.
// opts is passed to podman as the volume options (e.g. "ro" or "O").
func (c *Container) WithMountedDirectory(target, host, opts string) *Container {
	cp := c.clone()
	cp.mounts = append(cp.mounts, podman.VolumeMapping{Host: host, Container: target, Options: opts})
	return cp
}

// WithWorkdir sets the working directory for every exec
func (c *Container) WithWorkdir(dir string) *Container {
	cp := c.clone()
	cp.workdir = dir
	return cp
}

// WithEnvVariable sets an environment variable for every exec
func (c *Container) WithEnvVariable(key, value string) *Container {
	cp := c.clone()
	if cp.env == nil {
		cp.env = make(map[string]string)
	}
	cp.env[key] = value
	return cp
}

// WithExec queues a command. name labels the step; args is the full argv.
func (c *Container) WithExec(name string, args ...string) *Container {
	cp := c.clone()
	cp.execs = append(cp.execs, Exec{Name: name, Args: append([]string(nil), args...)})
	return cp
}

// SessionName returns a fresh session container name
func SessionName() string {
	return config.SessionNamePrefix + "-" + uuid.NewString()[:8]
}

// StartArgs returns the podman arguments that start the session container.
// This is a pure function that can be easily unit tested
func (c *Container) StartArgs(name string) []string {
	return podman.BuildRunArgs(podman.RunOptions{
		Name:       name,
		Image:      c.image,
		Entrypoint: "sleep",
		Workdir:    c.workdir,
		Volumes:    c.mounts,
		Env:        c.env,
		Detach:     true,
		Remove:     true,
		Args:       []string{"infinity"},
	})
}

// Sync runs every exec and discards their output
func (c *Container) Sync(ctx context.Context, r podman.Runner) error {
	_, err := c.Stdout(ctx, r)
	return err
}

// Stdout runs every exec in order and returns their concatenated stdout.
// The first failing exec stops the session with an *ExecError.
// The session container is always removed.
func (c *Container) Stdout(ctx context.Context, r podman.Runner) (string, error) {
	outputs, err := c.Outputs(ctx, r)
	return strings.Join(outputs, ""), err
}

// Outputs is like Stdout but keeps the stdout of each exec separate.
// On failure the slice holds the outputs up to and including the failed exec.
func (c *Container) Outputs(ctx context.Context, r podman.Runner) ([]string, error) {
	name := SessionName()

	logrus.Debugf("Starting session %s from %s", name, c.image)
	if _, err := r.Output(ctx, nil, c.StartArgs(name)...); err != nil {
		return nil, fmt.Errorf("failed to start container from %s: %w", c.image, err)
	}
	defer func() {
		// Removal must happen even when ctx was cancelled
		if _, err := r.Output(context.WithoutCancel(ctx), nil, "rm", "-f", name); err != nil {
			logrus.Warnf("Failed to remove session container %s: %v", name, err)
		}
	}()

	outputs := make([]string, 0, len(c.execs))
	for _, e := range c.execs {
		logrus.Debugf("[%s] %s", e.Name, strings.Join(e.Args, " "))
		args := append([]string{"exec", name}, e.Args...)
		stdout, err := r.Output(ctx, nil, args...)
		outputs = append(outputs, string(stdout))
		if err != nil {
			return outputs, &ExecError{Name: e.Name, Args: e.Args, Err: err}
		}
	}
	return outputs, nil
}
