package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectFileName is looked up in the working directory when no explicit
// project file is given.
const ProjectFileName = ".convoy.yml"

// ProjectSettings is the parsed per-project settings file:
//
//	project: shop
//	file: docker-compose.yml
//	stop_timeout: 20s
//	concurrency: 2
type ProjectSettings struct {
	Project     string        `yaml:"project"`
	File        string        `yaml:"file"`
	StopTimeout time.Duration `yaml:"stop_timeout,omitempty"`
	Concurrency int           `yaml:"concurrency,omitempty"`
}

// LoadProjectSettings parses a project settings file. A missing file at the
// default location is not an error; an explicitly named file must exist.
func LoadProjectSettings(path string, explicit bool) (ProjectSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return ProjectSettings{}, nil
		}
		return ProjectSettings{}, fmt.Errorf("read project file: %w", err)
	}

	var settings ProjectSettings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return ProjectSettings{}, fmt.Errorf("parse project file: %w", err)
	}

	if settings.StopTimeout < 0 {
		return ProjectSettings{}, fmt.Errorf("project %q: stop_timeout cannot be negative", settings.Project)
	}
	if settings.Concurrency < 0 {
		return ProjectSettings{}, fmt.Errorf("project %q: concurrency cannot be negative", settings.Project)
	}

	return settings, nil
}

