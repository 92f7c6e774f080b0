package ci

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/distribution/reference"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"

	"github.com/joshyorko/dudley-ci/internal/config"
	"github.com/joshyorko/dudley-ci/internal/format"
	"github.com/joshyorko/dudley-ci/internal/podman"
	"github.com/joshyorko/dudley-ci/internal/source"
)

// Disk image types produced by bootc-image-builder
const (
	DiskTypeISO   = "iso"
	DiskTypeQCOW2 = "qcow2"
	DiskTypeRaw   = "raw"
	DiskTypeVMDK  = "vmdk"
)

// DiskOptions describes one disk image conversion
type DiskOptions struct {
	Type string `validate:"required,oneof=iso qcow2 raw vmdk"`
	// ImageRef is any image reference podman can resolve
	ImageRef string `validate:"required"`
	// ConfigFile names the builder config. Only its base name is used;
	// the file is always read from the disk config directory of the tree.
	ConfigFile string `validate:"required"`
}

// DiskArtifactPath returns where bootc-image-builder writes the artifact
// for diskType, relative to its output directory
func DiskArtifactPath(diskType string) string {
	switch diskType {
	case DiskTypeRaw:
		return filepath.Join("image", "disk.raw")
	case DiskTypeQCOW2:
		return filepath.Join("qcow2", "disk.qcow2")
	case DiskTypeVMDK:
		return filepath.Join("vmdk", "disk.vmdk")
	case DiskTypeISO:
		return filepath.Join("bootiso", "install.iso")
	default:
		return filepath.Join(diskType, "disk."+diskType)
	}
}

// DiskBuilderArgsOptions contains options for the bootc-image-builder run
type DiskBuilderArgsOptions struct {
	BuilderImage string
	Privileged   bool
	Type         string
	// ConfigDir is the host directory holding the builder configs
	ConfigDir string
	// ConfigName is the base name of the config inside ConfigDir
	ConfigName string
	// OutputDir is the host directory receiving the artifacts
	OutputDir string
	ImageRef  string
}

// BuildDiskBuilderArgs constructs the podman arguments that run bootc-image-builder
// This is a pure function that can be easily unit tested
func BuildDiskBuilderArgs(opts DiskBuilderArgsOptions) []string {
	return podman.BuildRunArgs(podman.RunOptions{
		Image:      opts.BuilderImage,
		Remove:     true,
		Privileged: opts.Privileged,
		Pull:       "newer",
		// Required for bootc-image-builder under SELinux
		SecurityOpts: []string{"label=type:unconfined_t"},
		Volumes: []podman.VolumeMapping{
			{Host: config.ContainerStoragePath, Container: config.ContainerStoragePath},
			{Host: opts.ConfigDir, Container: config.DiskConfigMountPath, Options: "ro"},
			{Host: opts.OutputDir, Container: config.DiskOutputMountPath},
		},
		Args: []string{
			"--type", opts.Type,
			"--config", path.Join(config.DiskConfigMountPath, opts.ConfigName),
			"--output", config.DiskOutputMountPath,
			opts.ImageRef,
		},
	})
}

// DiskStage converts an image into a bootable disk image
type DiskStage struct {
	cfg    *config.Config
	runner podman.Runner
	out    io.Writer
}

// NewDiskStage creates a new disk stage executor
func NewDiskStage(cfg *config.Config, runner podman.Runner, out io.Writer) *DiskStage {
	return &DiskStage{
		cfg:    cfg,
		runner: runner,
		out:    progressWriter(out),
	}
}

// BuildISO builds an installer ISO. configFile defaults to the configured ISO config.
func (d *DiskStage) BuildISO(ctx context.Context, src *source.Dir, imageRef, configFile string) (string, error) {
	if configFile == "" {
		configFile = d.cfg.Layout.ISOConfig
	}
	return d.Execute(ctx, src, DiskOptions{Type: DiskTypeISO, ImageRef: imageRef, ConfigFile: configFile})
}

// BuildQCOW2 builds a QCOW2 VM disk. configFile defaults to the configured QCOW2 config.
func (d *DiskStage) BuildQCOW2(ctx context.Context, src *source.Dir, imageRef, configFile string) (string, error) {
	if configFile == "" {
		configFile = d.cfg.Layout.QCOW2Config
	}
	return d.Execute(ctx, src, DiskOptions{Type: DiskTypeQCOW2, ImageRef: imageRef, ConfigFile: configFile})
}

// Execute runs bootc-image-builder and returns the host path of the disk image
func (d *DiskStage) Execute(ctx context.Context, src *source.Dir, opts DiskOptions) (string, error) {
	if err := validate.Struct(opts); err != nil {
		return "", fmt.Errorf("invalid disk options: %w", err)
	}
	if _, err := reference.ParseNormalizedNamed(opts.ImageRef); err != nil {
		return "", fmt.Errorf("invalid image reference %s: %w", opts.ImageRef, err)
	}

	configDir, configName, err := d.resolveConfig(src, opts.ConfigFile)
	if err != nil {
		return "", err
	}

	if info, err := podman.Info(ctx, d.runner); err != nil {
		logrus.Debugf("Cannot query podman info: %v", err)
	} else if info.Rootless {
		logrus.Warn("Podman is running rootless; bootc-image-builder needs rootful podman to read the image from container storage")
	}

	outputDir, err := d.cfg.OutputDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	// bootc-image-builder writes to a subdirectory with a fixed filename,
	// so build into a temp directory on the same filesystem and move the file
	tempOutputDir, err := os.MkdirTemp(outputDir, ".tmp-"+opts.Type+"-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp output directory: %w", err)
	}
	defer os.RemoveAll(tempOutputDir)

	builder := Tools(d.cfg)[ToolBootcImageBuilder]
	args := BuildDiskBuilderArgs(DiskBuilderArgsOptions{
		BuilderImage: builder.Image,
		Privileged:   builder.Privileged,
		Type:         opts.Type,
		ConfigDir:    configDir.Path(),
		ConfigName:   configName,
		OutputDir:    tempOutputDir,
		ImageRef:     opts.ImageRef,
	})

	fmt.Fprintf(d.out, "💿 Building %s from %s (config: %s)...\n", opts.Type, opts.ImageRef, configName)
	if _, err := d.runner.Output(ctx, nil, args...); err != nil {
		return "", fmt.Errorf("bootc-image-builder failed: %w", err)
	}

	sourceFile, err := findArtifact(tempOutputDir, opts.Type)
	if err != nil {
		return "", err
	}

	finalOutputPath := filepath.Join(outputDir, "image."+opts.Type)
	if err := os.Rename(sourceFile, finalOutputPath); err != nil {
		// If rename fails (e.g., cross-device), try copy
		if err := copyFile(sourceFile, finalOutputPath); err != nil {
			return "", fmt.Errorf("failed to move output file: %w", err)
		}
	}

	if info, err := os.Stat(finalOutputPath); err == nil {
		fmt.Fprintf(d.out, "✅ Built %s: %s (%s)\n", opts.Type, finalOutputPath, format.Size(info.Size()))
	}
	return finalOutputPath, nil
}

// resolveConfig looks the config up by base name in the disk config
// directory and checks that it parses as TOML
func (d *DiskStage) resolveConfig(src *source.Dir, configFile string) (*source.Dir, string, error) {
	name := path.Base(filepath.ToSlash(configFile))
	if name == "." || name == "/" {
		return nil, "", fmt.Errorf("invalid disk config %q", configFile)
	}
	dir, err := src.Sub(d.cfg.Layout.DiskConfigDir)
	if err != nil {
		return nil, "", fmt.Errorf("disk config directory not found: %w", err)
	}
	if !dir.Exists(name) {
		return nil, "", fmt.Errorf("disk config %s not found in %s", name, dir.Path())
	}
	data, err := dir.ReadFile(name)
	if err != nil {
		return nil, "", err
	}
	if err := CheckDiskConfig(data); err != nil {
		return nil, "", fmt.Errorf("%s: %w", path.Join(d.cfg.Layout.DiskConfigDir, name), err)
	}
	return dir, name, nil
}

// CheckDiskConfig reports whether data is a valid TOML document.
// Syntax errors carry their line and column.
func CheckDiskConfig(data []byte) error {
	var doc map[string]interface{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return fmt.Errorf("invalid TOML at line %d, column %d: %s", row, col, derr.Error())
		}
		return fmt.Errorf("invalid TOML: %w", err)
	}
	return nil
}

// findArtifact returns the artifact bootc-image-builder wrote into dir,
// falling back to the first file with a matching extension
func findArtifact(dir, diskType string) (string, error) {
	sourceFile := filepath.Join(dir, DiskArtifactPath(diskType))
	if _, err := os.Stat(sourceFile); err == nil {
		return sourceFile, nil
	}

	var foundFile string
	err := filepath.WalkDir(dir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() && strings.HasSuffix(p, "."+diskType) {
			foundFile = p
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to find output file: %w", err)
	}
	if foundFile == "" {
		return "", fmt.Errorf("output file not found in %s", dir)
	}
	return foundFile, nil
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(destFile, sourceFile); err != nil {
		destFile.Close()
		return err
	}
	return destFile.Close()
}
