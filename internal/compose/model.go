package compose

import "sort"

// Stack is the immutable, validated in-memory description of one compose
// project: every declared service plus the top-level named volumes.
type Stack struct {
	Name        string
	Services    map[string]ServiceSpec
	VolumeNames []string
	Fingerprint string
}

// ServiceSpec describes a single service. Values are normalized at load time
// and never mutated afterwards.
type ServiceSpec struct {
	Name        string
	Image       string
	Ports       []PortMapping
	Volumes     []VolumeMapping
	Environment []string // KEY=value form
	DependsOn   []string
	WorkingDir  string
	Command     []string
}

// PortMapping maps a host port to a container port.
type PortMapping struct {
	HostIP        string
	HostPort      string
	ContainerPort uint32
	Protocol      string
}

// VolumeMapping maps a host path or named volume into the container.
// Named is true when Source refers to a top-level volume declaration.
type VolumeMapping struct {
	Source   string
	Target   string
	ReadOnly bool
	Named    bool
}

// ServiceNames returns the declared service names in sorted order.
func (s Stack) ServiceNames() []string {
	names := make([]string, 0, len(s.Services))
	for name := range s.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
