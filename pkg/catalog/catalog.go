/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package catalog

import (
	"os"
	"path/filepath"

	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/errors"
)

const (
	definitionsFile = "task_definitions.yaml"
	actionsFile     = "task_actions.yaml"
	modelPathsFile  = "model_paths.yaml"
)

// Catalog resolves task names into executable plans. The documents are
// re-read on every resolve, so edits to the YAML files take effect without
// a restart.
type Catalog struct {
	dir                  string
	defaultTimeoutSecond int
	maxTimeoutSecond     int
}

func NewCatalog(dir string, defaultTimeoutSecond, maxTimeoutSecond int) *Catalog {
	return &Catalog{
		dir:                  dir,
		defaultTimeoutSecond: defaultTimeoutSecond,
		maxTimeoutSecond:     maxTimeoutSecond,
	}
}

// Resolve looks up task_definitions[name], follows its model id into
// task_actions, applies the request overrides and clamps the timeout to
// [1, maxTimeoutSecond]. A missing model_paths entry is tolerated; missing
// definition or action documents are not.
func (c *Catalog) Resolve(taskName string, overrides Overrides) (*ResolvedTask, error) {
	definitions := map[string]TaskDefinition{}
	if err := c.loadYaml(definitionsFile, &definitions); err != nil {
		return nil, errors.NewInternalError(err.Error())
	}
	definition, ok := definitions[taskName]
	if !ok {
		return nil, errors.NewUnknownTask(taskName)
	}

	actions := map[string]TaskAction{}
	if err := c.loadYaml(actionsFile, &actions); err != nil {
		return nil, errors.NewInternalError(err.Error())
	}
	action, ok := actions[definition.ModelId]
	if !ok {
		return nil, errors.NewMissingAction(definition.ModelId)
	}

	resolved := &ResolvedTask{
		TaskName:       taskName,
		TaskType:       definition.TaskType,
		Difficulty:     definition.TaskDifficulty,
		ModelId:        definition.ModelId,
		TimeoutSeconds: definition.TimeoutSeconds,
		Metadata:       map[string]interface{}{},
		Image:          action.DockerImage,
		Command:        action.Command,
		EnvVars:        action.EnvVars,
	}
	if resolved.TaskType == "" {
		resolved.TaskType = TaskTypeOneoff
	}
	if resolved.Difficulty == "" {
		resolved.Difficulty = DifficultyLow
	}
	if resolved.TimeoutSeconds <= 0 {
		resolved.TimeoutSeconds = c.defaultTimeoutSecond
	}
	for key, val := range definition.Metadata {
		resolved.Metadata[key] = val
	}

	if overrides.Difficulty != "" {
		resolved.Difficulty = overrides.Difficulty
	}
	if resolved.Difficulty != DifficultyLow && resolved.Difficulty != DifficultyHigh {
		return nil, errors.NewInvalidDifficulty(resolved.Difficulty)
	}
	if overrides.TimeoutSeconds != 0 {
		resolved.TimeoutSeconds = overrides.TimeoutSeconds
	}
	if resolved.TimeoutSeconds < 1 {
		resolved.TimeoutSeconds = 1
	}
	if resolved.TimeoutSeconds > c.maxTimeoutSecond {
		resolved.TimeoutSeconds = c.maxTimeoutSecond
	}
	for key, val := range overrides.Metadata {
		resolved.Metadata[key] = val
	}

	if resolved.ModelId != "" {
		modelPaths := map[string]ModelPath{}
		if err := c.loadYaml(modelPathsFile, &modelPaths); err != nil {
			klog.V(4).Infof("model paths document unavailable: %v", err)
		} else if entry, found := modelPaths[resolved.ModelId]; found {
			resolved.ModelPath = entry.Path
		}
	}
	return resolved, nil
}

func (c *Catalog) loadYaml(name string, out interface{}) error {
	data, err := os.ReadFile(filepath.Join(c.dir, name))
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}
