// Package config loads and validates the service's singleton YAML
// configuration file.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/sqre-io/labcontroller/pkg/inventory"
	"github.com/sqre-io/labcontroller/pkg/lab"
	"github.com/sqre-io/labcontroller/pkg/menu"
	"github.com/sqre-io/labcontroller/pkg/prepull"
)

// Safir holds the service metadata block common to every safir-family
// service's configuration file.
type Safir struct {
	Name      string `yaml:"name"`
	RootPath  string `yaml:"rootPath"`
	LogLevel  string `yaml:"logLevel"`
}

// Kubernetes holds the cluster-interaction block.
type Kubernetes struct {
	RequestTimeoutSeconds int    `yaml:"requestTimeout"`
	Namespace             string `yaml:"namespace"`
}

// SizeYAML is the YAML shape of one lab size definition.
type SizeYAML struct {
	CPU    string `yaml:"cpu"`
	Memory string `yaml:"memory"`
}

// SecretYAML is the YAML shape of one configured secret reference.
type SecretYAML struct {
	SourceSecretName string `yaml:"secretName"`
	SourceKey        string `yaml:"secretKey"`
	TargetKey        string `yaml:"targetKey"`
}

// VolumeYAML / VolumeMountYAML / InitContainerYAML mirror lab.VolumeSpec
// et al. in their YAML form.
type VolumeYAML struct {
	Name        string `yaml:"name"`
	HostPath    string `yaml:"hostpath"`
	NFSServer   string `yaml:"server"`
	NFSPath     string `yaml:"path"`
	NFSReadOnly bool   `yaml:"readOnly"`
}

type VolumeMountYAML struct {
	Name      string `yaml:"name"`
	MountPath string `yaml:"containerPath"`
	ReadOnly  bool   `yaml:"readOnly"`
	SubPath   string `yaml:"subPath"`
}

type InitContainerYAML struct {
	Name    string   `yaml:"name"`
	Image   string   `yaml:"image"`
	Command []string `yaml:"command"`
}

// Lab holds the lab.{sizes, env, volumes, volumeMounts, initcontainers,
// secrets, quota} configuration block.
type Lab struct {
	NamespacePrefix     string                 `yaml:"namespacePrefix"`
	Sizes               map[string]SizeYAML    `yaml:"sizes"`
	Env                 map[string]string      `yaml:"env"`
	Files               map[string]string      `yaml:"files"`
	Volumes             []VolumeYAML           `yaml:"volumes"`
	VolumeMounts        []VolumeMountYAML      `yaml:"volumeMounts"`
	InitContainers      []InitContainerYAML    `yaml:"initcontainers"`
	Secrets             []SecretYAML           `yaml:"secrets"`
	QuotaCPU            string                 `yaml:"quotaCpu"`
	QuotaMemory         string                 `yaml:"quotaMemory"`
	MaxNamespaceRetries int                    `yaml:"maxNamespaceRetries"`
}

// GAR / Docker are the two mutually-exclusive image-source variants.
type GAR struct {
	Image string `yaml:"image"`
}

type Docker struct {
	Repository string `yaml:"repository"`
}

// PrepullerConfig holds prepuller.config.*.
type PrepullerConfig struct {
	RecommendedTag string   `yaml:"recommendedTag"`
	NumReleases    int      `yaml:"numReleases"`
	NumWeeklies    int      `yaml:"numWeeklies"`
	NumDailies     int      `yaml:"numDailies"`
	Cycle          *int     `yaml:"cycle"`
	AliasTags      []string `yaml:"aliasTags"`
	GAR            *GAR     `yaml:"gar"`
	Docker         *Docker  `yaml:"docker"`
	PollIntervalSeconds int `yaml:"pollInterval"`
	PullTimeoutSeconds  int `yaml:"pullTimeout"`
}

// Prepuller wraps the prepuller.config section.
type Prepuller struct {
	Config PrepullerConfig `yaml:"config"`
}

// Form holds form.forms: named templates, must contain "default".
type Form struct {
	Forms map[string]string `yaml:"forms"`
}

// Config is the top-level singleton configuration file.
type Config struct {
	Safir      Safir      `yaml:"safir"`
	Kubernetes Kubernetes `yaml:"kubernetes"`
	Lab        Lab        `yaml:"lab"`
	Prepuller  Prepuller  `yaml:"prepuller"`
	Form       Form       `yaml:"form"`
}

// Load reads and parses the configuration file at path, then validates it.
// Any failure is meant to be fatal at boot.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: read file")
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "config: parse yaml")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate applies the configuration-error checks made at boot: missing
// required fields, unknown size labels, duplicate secret keys, and
// neither gar nor docker configured.
func (c *Config) Validate() error {
	if c.Prepuller.Config.GAR == nil && c.Prepuller.Config.Docker == nil {
		return lab.ConfigError{Reason: "prepuller.config must configure exactly one of gar or docker"}
	}
	if c.Prepuller.Config.GAR != nil && c.Prepuller.Config.Docker != nil {
		return lab.ConfigError{Reason: "prepuller.config must configure exactly one of gar or docker, not both"}
	}
	if _, ok := c.Form.Forms["default"]; !ok {
		return lab.ConfigError{Reason: `form.forms must contain a "default" key`}
	}
	return c.LabConfig().Validate()
}

// LabConfig projects the YAML Lab block into pkg/lab's Config shape.
func (c *Config) LabConfig() lab.Config {
	sizes := make(map[string]lab.SizeDef, len(c.Lab.Sizes))
	for k, v := range c.Lab.Sizes {
		sizes[k] = lab.SizeDef{CPU: v.CPU, Memory: v.Memory}
	}
	var refs []lab.SecretRef
	for _, s := range c.Lab.Secrets {
		refs = append(refs, lab.SecretRef{SourceSecretName: s.SourceSecretName, SourceKey: s.SourceKey, TargetKey: s.TargetKey})
	}
	var volumes []lab.VolumeSpec
	for _, v := range c.Lab.Volumes {
		volumes = append(volumes, lab.VolumeSpec{Name: v.Name, HostPath: v.HostPath, NFSServer: v.NFSServer, NFSPath: v.NFSPath, NFSReadOnly: v.NFSReadOnly})
	}
	var mounts []lab.VolumeMountSpec
	for _, m := range c.Lab.VolumeMounts {
		mounts = append(mounts, lab.VolumeMountSpec{Name: m.Name, MountPath: m.MountPath, ReadOnly: m.ReadOnly, SubPath: m.SubPath})
	}
	var inits []lab.InitContainerSpec
	for _, ic := range c.Lab.InitContainers {
		inits = append(inits, lab.InitContainerSpec{Name: ic.Name, Image: ic.Image, Command: ic.Command})
	}
	maxRetries := c.Lab.MaxNamespaceRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	return lab.Config{
		NamespacePrefix:      c.Lab.NamespacePrefix,
		Sizes:                sizes,
		SecretRefs:           refs,
		EnvBase:              c.Lab.Env,
		Volumes:              volumes,
		VolumeMounts:         mounts,
		InitContainers:       inits,
		MaxNamespaceRetries:  maxRetries,
		RequestTimeout:       time.Duration(c.Kubernetes.RequestTimeoutSeconds) * time.Second,
		DefaultQuotaCPU:      c.Lab.QuotaCPU,
		DefaultQuotaMemory:   c.Lab.QuotaMemory,
	}
}

// InventoryConfig projects prepuller.config into pkg/inventory's Config
// shape.
func (c *Config) InventoryConfig() inventory.Config {
	cfg := inventory.Config{
		RecommendedTag: c.Prepuller.Config.RecommendedTag,
		AliasTags:      c.Prepuller.Config.AliasTags,
		Cycle:          c.Prepuller.Config.Cycle,
	}
	if c.Prepuller.Config.GAR != nil {
		cfg.GARImage = c.Prepuller.Config.GAR.Image
	}
	if c.Prepuller.Config.Docker != nil {
		cfg.DockerRepository = c.Prepuller.Config.Docker.Repository
	}
	return cfg
}

// MenuConfig projects prepuller.config into pkg/menu's Config shape.
func (c *Config) MenuConfig() menu.Config {
	return menu.Config{
		RecommendedTag: c.Prepuller.Config.RecommendedTag,
		NumReleases:    c.Prepuller.Config.NumReleases,
		NumWeeklies:    c.Prepuller.Config.NumWeeklies,
		NumDailies:     c.Prepuller.Config.NumDailies,
	}
}

// PrepullConfig projects the poll/pull timing into pkg/prepull's Config
// shape. Namespace and PodNamePrefix are filled in by the caller, which
// knows the controller's own operating namespace.
func (c *Config) PrepullConfig() prepull.Config {
	poll := c.Prepuller.Config.PollIntervalSeconds
	if poll == 0 {
		poll = 60
	}
	pull := c.Prepuller.Config.PullTimeoutSeconds
	if pull == 0 {
		pull = 300
	}
	return prepull.Config{
		PollInterval: time.Duration(poll) * time.Second,
		PullTimeout:  time.Duration(pull) * time.Second,
	}
}
