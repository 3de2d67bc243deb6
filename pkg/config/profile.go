package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/api/resource"
)

// Mount is one sub-path of the session claim mounted into the pod.
type Mount struct {
	Path    string `yaml:"path"`
	SubPath string `yaml:"sub_path"`
}

// Resources is a request/limit pair for the session container.
type Resources struct {
	RequestMemory string `yaml:"request_memory"`
	RequestCPU    string `yaml:"request_cpu"`
	LimitMemory   string `yaml:"limit_memory"`
	LimitCPU      string `yaml:"limit_cpu"`
}

// Profile parameterizes the session core. The historical deployments
// differed only in prefix, autoscaler objects, mounts and defaults; a
// profile captures those differences so one engine serves them all.
type Profile struct {
	Name            string    `yaml:"name"`
	Prefix          string    `yaml:"prefix"`
	ClaimSize       string    `yaml:"claim_size"`
	InitialReplicas int32     `yaml:"initial_replicas"`
	UseAutoscaler   bool      `yaml:"use_autoscaler"`
	Resources       Resources `yaml:"resources"`
	Mounts          []Mount   `yaml:"mounts"`
}

// profileFile is the on-disk shape for PROFILE_FILE.
type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// defaultMounts are the five well-known sub-paths of the single session
// claim: workspace, user home, supervisor configs, logs, embedded db.
func defaultMounts() []Mount {
	return []Mount{
		{Path: "/app", SubPath: "app"},
		{Path: "/root", SubPath: "root"},
		{Path: "/etc/supervisor", SubPath: "etc/supervisor"},
		{Path: "/var/log", SubPath: "var/log"},
		{Path: "/data/db", SubPath: "data/db"},
	}
}

// BuiltinProfiles returns the compiled-in profile set.
func BuiltinProfiles() []Profile {
	return []Profile{
		{
			Name:            "client",
			Prefix:          "client",
			ClaimSize:       "10Gi",
			InitialReplicas: 1,
			UseAutoscaler:   false,
			Resources: Resources{
				RequestMemory: "512Mi",
				RequestCPU:    "500m",
				LimitMemory:   "1Gi",
				LimitCPU:      "1000m",
			},
			Mounts: defaultMounts(),
		},
		{
			Name:            "user",
			Prefix:          "user",
			ClaimSize:       "10Gi",
			InitialReplicas: 1,
			UseAutoscaler:   true,
			Resources: Resources{
				RequestMemory: "256Mi",
				RequestCPU:    "250m",
				LimitMemory:   "512Mi",
				LimitCPU:      "500m",
			},
			Mounts: defaultMounts(),
		},
	}
}

// LoadProfiles reads a profile set from a YAML file.
func LoadProfiles(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var f profileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(f.Profiles) == 0 {
		return nil, fmt.Errorf("no profiles defined in %s", path)
	}

	for i := range f.Profiles {
		if err := f.Profiles[i].Validate(); err != nil {
			return nil, err
		}
	}
	return f.Profiles, nil
}

// SelectProfile picks one profile by name.
func SelectProfile(profiles []Profile, name string) (*Profile, error) {
	for i := range profiles {
		if profiles[i].Name == name {
			return &profiles[i], nil
		}
	}
	return nil, fmt.Errorf("unknown session profile %q", name)
}

// Validate rejects profiles whose quantities Kubernetes would refuse.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if p.Prefix == "" {
		return fmt.Errorf("profile %s: prefix is required", p.Name)
	}
	if p.InitialReplicas < 0 || p.InitialReplicas > 1 {
		return fmt.Errorf("profile %s: initial_replicas must be 0 or 1", p.Name)
	}
	quantities := map[string]string{
		"claim_size":     p.ClaimSize,
		"request_memory": p.Resources.RequestMemory,
		"request_cpu":    p.Resources.RequestCPU,
		"limit_memory":   p.Resources.LimitMemory,
		"limit_cpu":      p.Resources.LimitCPU,
	}
	for field, q := range quantities {
		if _, err := resource.ParseQuantity(q); err != nil {
			return fmt.Errorf("profile %s: invalid %s %q: %w", p.Name, field, q, err)
		}
	}
	if len(p.Mounts) == 0 {
		return fmt.Errorf("profile %s: at least one mount is required", p.Name)
	}
	return nil
}
