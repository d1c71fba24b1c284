package config

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// DockerAuth is one registry's credentials as stored in a
// .dockerconfigjson file: auths: {host: {auth: base64(user:pass)}}.
type DockerAuth struct {
	Username string
	Password string
}

type dockerConfigFile struct {
	Auths map[string]struct {
		Auth string `json:"auth"`
	} `json:"auths"`
}

// LoadDockerConfig parses a .dockerconfigjson file into a map of registry
// host to decoded credentials.
func LoadDockerConfig(path string) (map[string]DockerAuth, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "dockerconfig: read file")
	}
	var raw dockerConfigFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "dockerconfig: parse json")
	}
	out := make(map[string]DockerAuth, len(raw.Auths))
	for host, entry := range raw.Auths {
		decoded, err := base64.StdEncoding.DecodeString(entry.Auth)
		if err != nil {
			return nil, errors.Wrapf(err, "dockerconfig: decode auth for %s", host)
		}
		parts := strings.SplitN(string(decoded), ":", 2)
		auth := DockerAuth{Username: parts[0]}
		if len(parts) == 2 {
			auth.Password = parts[1]
		}
		out[host] = auth
	}
	return out, nil
}
