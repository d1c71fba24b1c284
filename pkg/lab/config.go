package lab

import "time"

// sizeLabels is the closed set of nine lab size labels the configuration
// may define resources for.
var sizeLabels = []string{
	"fine", "diminutive", "tiny", "small", "medium", "large", "huge", "gargantuan", "colossal",
}

// ValidSizeLabel reports whether label is one of the nine closed-set sizes.
func ValidSizeLabel(label string) bool {
	for _, s := range sizeLabels {
		if s == label {
			return true
		}
	}
	return false
}

// SizeDef is the cpu/memory quantum for one size label.
type SizeDef struct {
	CPU    string
	Memory string
}

// SecretRef names a source secret and a key to extract into the user's
// merged secret. TargetKey defaults to SourceKey when empty.
type SecretRef struct {
	SourceSecretName string
	SourceKey        string
	TargetKey        string
}

// VolumeSpec / VolumeMountSpec / InitContainerSpec mirror the configured
// extra volumes, mounts, and init containers attached to every lab pod.
type VolumeSpec struct {
	Name        string
	HostPath    string
	NFSServer   string
	NFSPath     string
	NFSReadOnly bool
}

type VolumeMountSpec struct {
	Name      string
	MountPath string
	ReadOnly  bool
	SubPath   string
}

type InitContainerSpec struct {
	Name    string
	Image   string
	Command []string
}

// Config is the subset of configuration the lab lifecycle manager needs.
type Config struct {
	NamespacePrefix      string
	Sizes                map[string]SizeDef
	SecretRefs           []SecretRef
	NSSFiles             map[string]string
	EnvBase              map[string]string
	Volumes              []VolumeSpec
	VolumeMounts         []VolumeMountSpec
	InitContainers       []InitContainerSpec
	MaxNamespaceRetries  int
	RequestTimeout       time.Duration
	DefaultQuotaCPU      string
	DefaultQuotaMemory   string
	TerminationGraceSecs int64
}

// Validate applies the boot-time configuration checks: unknown size
// labels, duplicate secret keys, and the reserved "token" key being
// (mis)configured are all fatal.
func (c Config) Validate() error {
	for label := range c.Sizes {
		if !ValidSizeLabel(label) {
			return ConfigError{Reason: "unknown size label: " + label}
		}
	}
	seen := make(map[string]bool)
	for _, ref := range c.SecretRefs {
		key := ref.TargetKey
		if key == "" {
			key = ref.SourceKey
		}
		if key == "token" {
			return ConfigError{Reason: "secret key \"token\" is reserved and may not be configured"}
		}
		if seen[key] {
			return ConfigError{Reason: "duplicate configured secret key: " + key}
		}
		seen[key] = true
	}
	if c.MaxNamespaceRetries <= 0 {
		return ConfigError{Reason: "maxNamespaceRetries must be positive"}
	}
	return nil
}
