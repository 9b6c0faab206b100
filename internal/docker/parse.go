package docker

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	units "github.com/docker/go-units"
)

// cliTimeLayout is how `docker ps` and `docker images` render CreatedAt.
const cliTimeLayout = "2006-01-02 15:04:05 -0700 MST"

type cliContainer struct {
	ID        string `json:"ID"`
	Names     string `json:"Names"`
	Image     string `json:"Image"`
	CreatedAt string `json:"CreatedAt"`
	State     string `json:"State"`
	Status    string `json:"Status"`
	Ports     string `json:"Ports"`
	Networks  string `json:"Networks"`
	Mounts    string `json:"Mounts"`
}

type cliImage struct {
	ID         string `json:"ID"`
	Repository string `json:"Repository"`
	Tag        string `json:"Tag"`
	Size       string `json:"Size"`
	CreatedAt  string `json:"CreatedAt"`
}

type cliNetwork struct {
	ID     string `json:"ID"`
	Name   string `json:"Name"`
	Driver string `json:"Driver"`
	Scope  string `json:"Scope"`
}

type cliVolume struct {
	Name       string `json:"Name"`
	Driver     string `json:"Driver"`
	Mountpoint string `json:"Mountpoint"`
}

type cliStats struct {
	ID       string `json:"ID"`
	Name     string `json:"Name"`
	CPUPerc  string `json:"CPUPerc"`
	MemUsage string `json:"MemUsage"`
	NetIO    string `json:"NetIO"`
	BlockIO  string `json:"BlockIO"`
}

type cliInfo struct {
	ServerVersion     string   `json:"ServerVersion"`
	OperatingSystem   string   `json:"OperatingSystem"`
	OSType            string   `json:"OSType"`
	Architecture      string   `json:"Architecture"`
	KernelVersion     string   `json:"KernelVersion"`
	NCPU              int      `json:"NCPU"`
	MemTotal          int64    `json:"MemTotal"`
	Containers        int      `json:"Containers"`
	ContainersRunning int      `json:"ContainersRunning"`
	ContainersPaused  int      `json:"ContainersPaused"`
	ContainersStopped int      `json:"ContainersStopped"`
	Images            int      `json:"Images"`
	ServerErrors      []string `json:"ServerErrors"`
}

func (i cliInfo) convert() EngineInfo {
	info := EngineInfo{
		Status:        EngineRunning,
		Version:       i.ServerVersion,
		OS:            i.OperatingSystem,
		OSType:        i.OSType,
		Architecture:  i.Architecture,
		KernelVersion: i.KernelVersion,
		CPUs:          i.NCPU,
		Containers:    i.Containers,
		Running:       i.ContainersRunning,
		Paused:        i.ContainersPaused,
		Stopped:       i.ContainersStopped,
		Images:        i.Images,
	}
	if i.MemTotal > 0 {
		info.MemTotal = uint64(i.MemTotal)
	}
	return info
}

// parseInfo decodes `docker info --format '{{json .}}'`.
func parseInfo(out []byte) (cliInfo, error) {
	var info cliInfo
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return info, fmt.Errorf("empty docker info output")
	}
	if err := json.Unmarshal(out, &info); err != nil {
		return info, err
	}
	return info, nil
}

// decodeLines decodes one JSON object per non-blank line of out.
func decodeLines[T any](out []byte) ([]T, error) {
	var items []T
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var item T
		if err := json.Unmarshal(text, &item); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		items = append(items, item)
	}
	return items, sc.Err()
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseCLITime(s string) time.Time {
	t, err := time.Parse(cliTimeLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseContainers(out []byte) ([]ContainerInfo, error) {
	rows, err := decodeLines[cliContainer](out)
	if err != nil {
		return nil, err
	}
	containers := make([]ContainerInfo, 0, len(rows))
	for _, r := range rows {
		if r.ID == "" {
			return nil, fmt.Errorf("container row without ID")
		}
		c := ContainerInfo{
			ID:         r.ID,
			Name:       strings.TrimPrefix(firstOf(splitList(r.Names)), "/"),
			Image:      r.Image,
			Status:     normalizeStatus(r.State),
			StatusText: r.Status,
			Created:    parseCLITime(r.CreatedAt),
			Ports:      splitList(r.Ports),
			Networks:   splitList(r.Networks),
		}
		// Bind mounts show up as host paths; only named volumes count.
		for _, m := range splitList(r.Mounts) {
			if !strings.HasPrefix(m, "/") {
				c.Volumes = append(c.Volumes, m)
			}
		}
		containers = append(containers, c)
	}
	return containers, nil
}

// parseImages folds the one-row-per-tag CLI output into one ImageInfo per ID.
func parseImages(out []byte) ([]ImageInfo, error) {
	rows, err := decodeLines[cliImage](out)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*ImageInfo)
	var order []string
	for _, r := range rows {
		if r.ID == "" {
			return nil, fmt.Errorf("image row without ID")
		}
		img, ok := byID[r.ID]
		if !ok {
			size, err := units.FromHumanSize(r.Size)
			if err != nil {
				return nil, fmt.Errorf("image %s: size %q: %w", ShortID(r.ID), r.Size, err)
			}
			img = &ImageInfo{ID: r.ID, Size: size, Created: parseCLITime(r.CreatedAt)}
			byID[r.ID] = img
			order = append(order, r.ID)
		}
		if r.Repository != "" && r.Repository != "<none>" && r.Tag != "" && r.Tag != "<none>" {
			img.Tags = append(img.Tags, r.Repository+":"+r.Tag)
		}
	}
	images := make([]ImageInfo, 0, len(order))
	for _, id := range order {
		images = append(images, *byID[id])
	}
	return images, nil
}

func parseNetworks(out []byte) ([]NetworkInfo, error) {
	rows, err := decodeLines[cliNetwork](out)
	if err != nil {
		return nil, err
	}
	var networks []NetworkInfo
	for _, r := range rows {
		if r.Name == "" {
			return nil, fmt.Errorf("network row without name")
		}
		if IsSystemNetwork(r.Name) {
			continue
		}
		networks = append(networks, NetworkInfo{ID: r.ID, Name: r.Name, Driver: r.Driver, Scope: r.Scope})
	}
	return networks, nil
}

func parseVolumes(out []byte) ([]VolumeInfo, error) {
	rows, err := decodeLines[cliVolume](out)
	if err != nil {
		return nil, err
	}
	volumes := make([]VolumeInfo, 0, len(rows))
	for _, r := range rows {
		if r.Name == "" {
			return nil, fmt.Errorf("volume row without name")
		}
		volumes = append(volumes, VolumeInfo{Name: r.Name, Driver: r.Driver, Mountpoint: r.Mountpoint})
	}
	return volumes, nil
}

// parseStats parses `docker stats --no-stream` rows keyed by full ID.
func parseStats(out []byte) (map[string]ContainerStats, error) {
	rows, err := decodeLines[cliStats](out)
	if err != nil {
		return nil, err
	}
	stats := make(map[string]ContainerStats, len(rows))
	for _, r := range rows {
		st, err := r.convert()
		if err != nil {
			return nil, fmt.Errorf("stats for %s: %w", r.Name, err)
		}
		stats[r.ID] = st
	}
	return stats, nil
}

func (r cliStats) convert() (ContainerStats, error) {
	var st ContainerStats
	cpu, err := parsePercent(r.CPUPerc)
	if err != nil {
		return st, err
	}
	st.CPUPercent = cpu

	// Memory uses binary units (MiB / GiB); I/O uses decimal (kB / MB).
	used, limit, err := parsePair(r.MemUsage, units.RAMInBytes)
	if err != nil {
		return st, fmt.Errorf("mem %q: %w", r.MemUsage, err)
	}
	st.MemUsed, st.MemLimit = used, limit

	rx, tx, err := parsePair(r.NetIO, units.FromHumanSize)
	if err != nil {
		return st, fmt.Errorf("net %q: %w", r.NetIO, err)
	}
	st.NetRx, st.NetTx = rx, tx

	read, write, err := parsePair(r.BlockIO, units.FromHumanSize)
	if err != nil {
		return st, fmt.Errorf("block %q: %w", r.BlockIO, err)
	}
	st.BlockRead, st.BlockWrite = read, write
	return st, nil
}

func parsePercent(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" || s == "--" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("cpu %q: %w", s, err)
	}
	return v, nil
}

// parsePair splits "a / b" and parses both sides with conv. "--" reads as 0.
func parsePair(s string, conv func(string) (int64, error)) (uint64, uint64, error) {
	left, right, ok := strings.Cut(s, "/")
	if !ok {
		return 0, 0, fmt.Errorf("expected 'a / b'")
	}
	a, err := parseSize(left, conv)
	if err != nil {
		return 0, 0, err
	}
	b, err := parseSize(right, conv)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func parseSize(s string, conv func(string) (int64, error)) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "--" {
		return 0, nil
	}
	v, err := conv(s)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, nil
	}
	return uint64(v), nil
}

func parseMemTotal(out []byte) (uint64, error) {
	s := strings.TrimSpace(string(out))
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("mem total %q: %w", s, err)
	}
	return v, nil
}

func firstOf(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}
