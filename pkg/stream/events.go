/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package stream

import (
	"strings"

	jsonutils "github.com/AMD-AIG-AIMA/gpu-server/pkg/json"
)

// Tags are the SSE event names seen by clients. Workers use the same tags
// in their framed stdout lines, except that the terminal frame is tagged
// "finish" and surfaces as "task_finish".
const (
	TagConnection = "connection"
	TagWorker     = "worker"
	TagTextDelta  = "text_delta"
	TagText       = "text"
	TagLogs       = "logs"
	TagTaskFinish = "task_finish"

	frameFinish = "finish"
)

const (
	LevelInfo    = "info"
	LevelWarning = "warning"
)

// Connection statuses describe request placement; the remaining statuses
// describe worker and task outcomes.
const (
	StatusAllocated       = "allocated"
	StatusSessionFound    = "session_found"
	StatusFull            = "full"
	StatusQueueFull       = "queue_full"
	StatusSessionNotFound = "session_not_found"
	StatusFailure         = "failure"

	StatusCreated   = "created"
	StatusCompleted = "completed"
	StatusTimeout   = "timeout"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Event is one item in a task's output stream.
type Event interface {
	Tag() string
}

// Connection reports how the request was placed: which gpu, which session,
// or why placement failed.
type Connection struct {
	Status    string `json:"status"`
	GpuId     *int   `json:"gpu_id,omitempty"`
	SessionId string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (Connection) Tag() string { return TagConnection }

// Worker reports container lifecycle transitions.
type Worker struct {
	Status      string `json:"status"`
	ContainerId string `json:"container_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (Worker) Tag() string { return TagWorker }

// TextDelta is an incremental piece of generated output.
type TextDelta struct {
	Delta string `json:"delta"`
}

func (TextDelta) Tag() string { return TagTextDelta }

// Text is a complete block of generated output.
type Text struct {
	Content string `json:"content"`
}

func (Text) Tag() string { return TagText }

// Logs is a worker log line that is not part of the generated output.
type Logs struct {
	Log       string `json:"log"`
	Level     string `json:"level"`
	Timestamp string `json:"timestamp,omitempty"`
}

func (Logs) Tag() string { return TagLogs }

// TaskFinish terminates a stream. Exactly one is delivered per task.
type TaskFinish struct {
	Status         string `json:"status"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
	Error          string `json:"error,omitempty"`
}

func (TaskFinish) Tag() string { return TagTaskFinish }

type frameHead struct {
	Event string `json:"event"`
}

// ParseFrame turns one raw worker line into an event. A line is a frame
// when it is a JSON object with a known string "event" tag; everything
// else degrades to Logs so nothing a worker prints is lost. Lines read
// from stderr degrade with level warning. Blank lines return nil.
func ParseFrame(line string, stderr bool) Event {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	level := LevelInfo
	if stderr {
		level = LevelWarning
	}
	var head frameHead
	if err := jsonutils.Unmarshal([]byte(trimmed), &head); err != nil || head.Event == "" {
		return Logs{Log: trimmed, Level: level}
	}

	switch head.Event {
	case TagConnection:
		var ev Connection
		if err := jsonutils.Unmarshal([]byte(trimmed), &ev); err != nil {
			return Logs{Log: trimmed, Level: level}
		}
		return ev
	case TagWorker:
		var ev Worker
		if err := jsonutils.Unmarshal([]byte(trimmed), &ev); err != nil {
			return Logs{Log: trimmed, Level: level}
		}
		return ev
	case TagTextDelta:
		var ev TextDelta
		if err := jsonutils.Unmarshal([]byte(trimmed), &ev); err != nil {
			return Logs{Log: trimmed, Level: level}
		}
		return ev
	case TagText:
		var ev Text
		if err := jsonutils.Unmarshal([]byte(trimmed), &ev); err != nil {
			return Logs{Log: trimmed, Level: level}
		}
		return ev
	case TagLogs:
		var ev Logs
		if err := jsonutils.Unmarshal([]byte(trimmed), &ev); err != nil {
			return Logs{Log: trimmed, Level: level}
		}
		if ev.Level == "" {
			ev.Level = level
		}
		return ev
	case frameFinish:
		var ev TaskFinish
		if err := jsonutils.Unmarshal([]byte(trimmed), &ev); err != nil {
			return Logs{Log: trimmed, Level: level}
		}
		return ev
	default:
		return Logs{Log: trimmed, Level: level}
	}
}
