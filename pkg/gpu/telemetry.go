/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package gpu

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const smiTimeout = 5 * time.Second

const (
	smiIdxIndex = iota
	smiIdxName
	smiIdxMemUsed
	smiIdxMemTotal
	smiIdxTemp
	smiIdxUtil

	smiExpectedFields = 6
)

// Sample is one device's telemetry reading.
type Sample struct {
	Id   int
	Name string
	Metrics
}

// Telemetry produces point-in-time device readings. Failures degrade
// snapshots but never block allocation.
type Telemetry interface {
	Snapshot(ctx context.Context) ([]Sample, error)
}

// SmiTelemetry shells out to nvidia-smi. Query via the CSV interface rather
// than NVML bindings so a driver hiccup cannot crash the server.
type SmiTelemetry struct {
	run func(ctx context.Context, args ...string) ([]byte, error)
}

func NewSmiTelemetry() *SmiTelemetry {
	return &SmiTelemetry{run: runCommand}
}

func runCommand(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, args[0], args[1:]...).Output()
}

func (s *SmiTelemetry) Snapshot(ctx context.Context) ([]Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, smiTimeout)
	defer cancel()
	out, err := s.run(ctx,
		"nvidia-smi",
		"--query-gpu=index,name,memory.used,memory.total,temperature.gpu,utilization.gpu",
		"--format=csv,noheader,nounits")
	if err != nil {
		return nil, errors.Wrap(err, "nvidia-smi failed")
	}
	return parseSmiOutput(out), nil
}

func parseSmiOutput(out []byte) []Sample {
	lines := bytes.Split(bytes.TrimSpace(out), []byte{'\n'})
	samples := make([]Sample, 0, len(lines))
	for _, line := range lines {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		fields := strings.Split(string(line), ",")
		for len(fields) < smiExpectedFields {
			fields = append(fields, "")
		}
		atoi := func(i int) int {
			v, _ := strconv.Atoi(strings.TrimSpace(fields[i]))
			return v
		}
		samples = append(samples, Sample{
			Id:   atoi(smiIdxIndex),
			Name: strings.TrimSpace(fields[smiIdxName]),
			Metrics: Metrics{
				MemoryUsedMiB:  atoi(smiIdxMemUsed),
				MemoryTotalMiB: atoi(smiIdxMemTotal),
				TemperatureC:   atoi(smiIdxTemp),
				UtilizationPct: atoi(smiIdxUtil),
			},
		})
	}
	return samples
}
