package docker

import (
	"fmt"
	"sort"
	"strings"
)

// ParsePortMapping parses `[ip:]host:container[/proto]`.
func ParsePortMapping(s string) (PortMapping, error) {
	var pm PortMapping
	spec := s
	if slash := strings.LastIndex(spec, "/"); slash >= 0 {
		pm.Protocol = strings.ToLower(spec[slash+1:])
		spec = spec[:slash]
	}
	parts := strings.Split(spec, ":")
	switch len(parts) {
	case 2:
		pm.HostPort, pm.ContainerPort = parts[0], parts[1]
	case 3:
		pm.HostIP, pm.HostPort, pm.ContainerPort = parts[0], parts[1], parts[2]
	default:
		return PortMapping{}, fmt.Errorf("invalid port mapping %q, want host:container[/proto]", s)
	}
	if pm.HostPort == "" || pm.ContainerPort == "" {
		return PortMapping{}, fmt.Errorf("invalid port mapping %q, want host:container[/proto]", s)
	}
	return pm, nil
}

// ParseVolumeMapping parses `source:target[:ro|rw]`.
func ParseVolumeMapping(s string) (VolumeMapping, error) {
	parts := strings.Split(s, ":")
	switch {
	case len(parts) == 2:
		return VolumeMapping{Source: parts[0], Target: parts[1]}, nil
	case len(parts) == 3 && (parts[2] == "ro" || parts[2] == "rw"):
		return VolumeMapping{Source: parts[0], Target: parts[1], ReadOnly: parts[2] == "ro"}, nil
	}
	return VolumeMapping{}, fmt.Errorf("invalid volume mapping %q, want source:target[:ro|rw]", s)
}

// ParseEnv parses KEY=VALUE pairs. A bare KEY maps to "".
func ParseEnv(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, value, _ := strings.Cut(p, "=")
		if key == "" {
			return nil, fmt.Errorf("invalid environment entry %q, want KEY=VALUE", p)
		}
		env[key] = value
	}
	return env, nil
}

// envList renders Env as sorted KEY=VALUE entries.
func (s CreateSpec) envList() []string {
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+s.Env[k])
	}
	return out
}

// restartFlag renders the policy for `docker run --restart`. Empty means
// the engine default.
func (s CreateSpec) restartFlag() string {
	switch s.Restart {
	case RestartOnFailure:
		return fmt.Sprintf("on-failure:%d", DefaultOnFailureRetries)
	case "", RestartNo:
		return ""
	default:
		return string(s.Restart)
	}
}
