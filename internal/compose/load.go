package compose

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
)

const defaultProjectName = "convoy"

// Load reads and parses a compose file from disk. Relative bind mount sources
// are resolved against the file's directory.
func Load(ctx context.Context, path, projectName string) (Stack, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Stack{}, fmt.Errorf("read compose file: %w", err)
	}

	workingDir := filepath.Dir(path)
	return Parse(ctx, body, workingDir, projectName)
}

// Parse converts compose bytes into a validated Stack. The compose-go loader
// handles YAML syntax, interpolation, and environment normalization (list or
// map form both end up as KEY=value pairs).
func Parse(ctx context.Context, body []byte, workingDir, projectName string) (Stack, error) {
	if len(body) == 0 {
		return Stack{}, errors.New("compose body is empty")
	}
	if projectName == "" {
		projectName = defaultProjectName
	}
	if workingDir == "" {
		workingDir = "."
	}

	details := types.ConfigDetails{
		WorkingDir: workingDir,
		ConfigFiles: []types.ConfigFile{
			{
				Filename: "compose.yml",
				Content:  body,
			},
		},
		Environment: types.NewMapping(os.Environ()),
	}

	project, err := loader.LoadWithContext(ctx, details, func(opts *loader.Options) {
		opts.SetProjectName(projectName, false)
		opts.ResolvePaths = true
	})
	if err != nil {
		return Stack{}, fmt.Errorf("load compose: %w", err)
	}
	if len(project.Services) == 0 {
		return Stack{}, errors.New("compose has no services")
	}

	stack := Stack{
		Name:        projectName,
		Services:    make(map[string]ServiceSpec, len(project.Services)),
		VolumeNames: volumeNames(project.Volumes),
	}
	stack.Fingerprint = fingerprint(body)

	named := make(map[string]bool, len(stack.VolumeNames))
	for _, name := range stack.VolumeNames {
		named[name] = true
	}

	for name, service := range project.Services {
		if service.Image == "" {
			return Stack{}, fmt.Errorf("service %q missing image", name)
		}

		spec := ServiceSpec{
			Name:        name,
			Image:       service.Image,
			Ports:       convertPorts(service.Ports),
			Volumes:     convertVolumes(service.Volumes, named),
			Environment: convertEnvironment(service.Environment),
			DependsOn:   dependencyNames(service.DependsOn),
			WorkingDir:  service.WorkingDir,
			Command:     append([]string(nil), service.Command...),
		}
		stack.Services[name] = spec
	}

	return stack, nil
}

// fingerprint hashes the raw compose bytes so later invocations can detect a
// configuration that changed between up and down.
func fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func convertPorts(ports []types.ServicePortConfig) []PortMapping {
	if len(ports) == 0 {
		return nil
	}
	result := make([]PortMapping, 0, len(ports))
	for _, port := range ports {
		protocol := port.Protocol
		if protocol == "" {
			protocol = "tcp"
		}
		result = append(result, PortMapping{
			HostIP:        port.HostIP,
			HostPort:      port.Published,
			ContainerPort: port.Target,
			Protocol:      protocol,
		})
	}
	return result
}

func convertVolumes(volumes []types.ServiceVolumeConfig, named map[string]bool) []VolumeMapping {
	if len(volumes) == 0 {
		return nil
	}
	result := make([]VolumeMapping, 0, len(volumes))
	for _, volume := range volumes {
		result = append(result, VolumeMapping{
			Source:   volume.Source,
			Target:   volume.Target,
			ReadOnly: volume.ReadOnly,
			Named:    volume.Type == types.VolumeTypeVolume || named[volume.Source],
		})
	}
	return result
}

func convertEnvironment(env types.MappingWithEquals) []string {
	if len(env) == 0 {
		return nil
	}
	result := make([]string, 0, len(env))
	for key, value := range env {
		if value == nil {
			continue
		}
		result = append(result, key+"="+*value)
	}
	sort.Strings(result)
	return result
}

func dependencyNames(deps types.DependsOnConfig) []string {
	if len(deps) == 0 {
		return nil
	}
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func volumeNames(volumes types.Volumes) []string {
	if len(volumes) == 0 {
		return nil
	}
	names := make([]string, 0, len(volumes))
	for name := range volumes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
