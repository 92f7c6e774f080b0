package main

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joshyorko/dudley-ci/internal/ci"
	"github.com/joshyorko/dudley-ci/internal/config"
	"github.com/joshyorko/dudley-ci/internal/podman"
	"github.com/joshyorko/dudley-ci/internal/source"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check podman, the tool images and the source tree",
	Long: `Report whether the pipeline can run here.

This includes:
  - podman version and rootless mode
  - whether each tool image is already pulled
  - the source tree layout the stages expect`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

const statusProbeLimit = 4

type OverallStatus struct {
	Platform string         `json:"platform"`
	Podman   PodmanStatus   `json:"podman"`
	Tools    []ToolStatus   `json:"tools"`
	Source   []SourceStatus `json:"source"`
	Commit   string         `json:"commit,omitempty"`
}

type PodmanStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Rootless  bool   `json:"rootless"`
	Message   string `json:"message,omitempty"`
}

type ToolStatus struct {
	Name       string `json:"name"`
	Image      string `json:"image"`
	Pulled     bool   `json:"pulled"`
	Privileged bool   `json:"privileged,omitempty"`
}

type SourceStatus struct {
	Path    string `json:"path"`
	Present bool   `json:"present"`
	Message string `json:"message,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	var src *source.Dir
	if s, err := openSource(); err == nil {
		src = s
	}

	status := collectStatus(cmd.Context(), getConfig(), newRunner(), src)
	if jsonOut {
		return printJSON(cmd.OutOrStdout(), status)
	}
	printStatus(cmd.OutOrStdout(), status)
	return nil
}

// collectStatus gathers the status report. src may be nil when the
// source tree cannot be opened.
func collectStatus(ctx context.Context, cfg *config.Config, r podman.Runner, src *source.Dir) OverallStatus {
	status := OverallStatus{
		Platform: fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}

	// Independent podman calls run in parallel. Probes record their own
	// failures, so the group never returns an error.
	var g errgroup.Group
	g.SetLimit(statusProbeLimit)
	g.Go(func() error {
		status.Podman = checkPodman(ctx, r)
		return nil
	})

	tools := ci.Tools(cfg)
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)

	status.Tools = make([]ToolStatus, len(names))
	for i, name := range names {
		tool := tools[name]
		status.Tools[i] = ToolStatus{Name: name, Image: tool.Image, Privileged: tool.Privileged}
		ts := &status.Tools[i]
		g.Go(func() error {
			ts.Pulled, _ = podman.ImageExists(ctx, r, ts.Image)
			return nil
		})
	}
	_ = g.Wait()

	status.Source = checkSource(cfg, src)
	if src != nil {
		status.Commit, _ = src.ShortCommit()
	}
	return status
}

func checkPodman(ctx context.Context, r podman.Runner) PodmanStatus {
	info, err := podman.Info(ctx, r)
	if err != nil {
		return PodmanStatus{Message: err.Error()}
	}
	ps := PodmanStatus{Available: true, Version: info.Version, Rootless: info.Rootless}
	if err := podman.CheckVersion(info); err != nil {
		ps.Message = err.Error()
	}
	return ps
}

func checkSource(cfg *config.Config, src *source.Dir) []SourceStatus {
	paths := []string{
		cfg.Layout.Containerfile,
		cfg.Layout.PackageManifest,
		cfg.Layout.ISOConfig,
		cfg.Layout.QCOW2Config,
	}
	paths = append(paths, cfg.Layout.ValidationScripts...)

	statuses := make([]SourceStatus, 0, len(paths))
	for _, p := range paths {
		ss := SourceStatus{Path: p}
		if src == nil {
			ss.Message = "source tree not found"
		} else {
			ss.Present = src.Exists(p)
		}
		statuses = append(statuses, ss)
	}

	if src != nil && len(statuses) > 0 && statuses[0].Present {
		if content, err := ci.CheckContainerfile(src, cfg.Layout.Containerfile); err == nil && !ci.ContainsBootcLint(content) {
			statuses[0].Message = "no 'bootc container lint' step"
		}
	}
	return statuses
}

func printStatus(w io.Writer, status OverallStatus) {
	fmt.Fprintf(w, "Platform: %s\n", status.Platform)

	fmt.Fprintln(w, "\nPodman:")
	if status.Podman.Available {
		mode := "root"
		if status.Podman.Rootless {
			mode = "rootless"
		}
		fmt.Fprintf(w, "  ✅ Version: %s (%s)\n", status.Podman.Version, mode)
		if status.Podman.Message != "" {
			fmt.Fprintf(w, "  ⚠️  %s\n", status.Podman.Message)
		}
		if status.Podman.Rootless {
			fmt.Fprintln(w, "  ⚠️  build-iso and build-qcow2 need rootful podman")
		}
	} else {
		fmt.Fprintln(w, "  ❌ not available")
	}

	fmt.Fprintln(w, "\nTool images:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, t := range status.Tools {
		state := "not pulled"
		if t.Pulled {
			state = "pulled"
		}
		extra := ""
		if t.Privileged {
			extra = "(privileged)"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", t.Name, state, t.Image, extra)
	}
	tw.Flush()

	fmt.Fprintln(w, "\nSource tree:")
	for _, s := range status.Source {
		mark := "✅"
		if !s.Present {
			mark = "❌"
		}
		line := fmt.Sprintf("  %s %s", mark, s.Path)
		if s.Message != "" {
			line += " (" + s.Message + ")"
		}
		fmt.Fprintln(w, line)
	}
	if status.Commit != "" {
		fmt.Fprintf(w, "  Commit: %s\n", status.Commit)
	}
}
