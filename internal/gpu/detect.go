package gpu

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Device is one CUDA-capable GPU reported by nvidia-smi.
type Device struct {
	Index    int
	Name     string
	MemoryMB int
}

// Info summarizes GPU availability.
type Info struct {
	Available bool
	Devices   []Device
	Detail    string
}

// Detector reports GPU availability. Implementations must not block longer
// than the context allows.
type Detector func(ctx context.Context) Info

const detectTimeout = 10 * time.Second

var queryArgs = []string{"--query-gpu=index,name,memory.total", "--format=csv,noheader,nounits"}

// NewDetector returns a Detector backed by the nvidia-smi binary. Setting
// CUDA_VISIBLE_DEVICES to an empty value or -1 hides every device.
func NewDetector(binary string) Detector {
	if strings.TrimSpace(binary) == "" {
		binary = "nvidia-smi"
	}
	return func(ctx context.Context) Info {
		if visible, ok := os.LookupEnv("CUDA_VISIBLE_DEVICES"); ok {
			if v := strings.TrimSpace(visible); v == "" || v == "-1" {
				return Info{Detail: "CUDA_VISIBLE_DEVICES hides all devices"}
			}
		}
		path, err := exec.LookPath(binary)
		if err != nil {
			return Info{Detail: fmt.Sprintf("%s not found", binary)}
		}
		ctx, cancel := context.WithTimeout(ctx, detectTimeout)
		defer cancel()
		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, path, queryArgs...)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			detail := strings.TrimSpace(stderr.String())
			if detail == "" {
				detail = err.Error()
			}
			return Info{Detail: "nvidia-smi failed: " + detail}
		}
		return ParseQuery(stdout.Bytes())
	}
}

// ParseQuery interprets nvidia-smi CSV query output.
func ParseQuery(data []byte) Info {
	var devices []Device
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			continue
		}
		dev := Device{Index: idx, Name: strings.TrimSpace(fields[1])}
		if len(fields) > 2 {
			dev.MemoryMB, _ = strconv.Atoi(strings.TrimSpace(fields[2]))
		}
		devices = append(devices, dev)
	}
	if len(devices) == 0 {
		return Info{Detail: "no GPU reported"}
	}
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		names = append(names, d.Name)
	}
	return Info{
		Available: true,
		Devices:   devices,
		Detail:    strings.Join(names, ", "),
	}
}

// Static returns a Detector with a fixed answer.
func Static(info Info) Detector {
	return func(context.Context) Info { return info }
}
