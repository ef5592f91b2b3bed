/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package errors

import (
	"fmt"
	"net/http"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const PrimusPrefix = "Primus."

/*
   5-digit Error Code Convention: [xx][yyy]
   [xx] Business ID (00–99), used to distinguish errors from different business interfaces.
   00: General errors
   01: Task/catalog-related errors
   02: Session-related errors
   03: GPU-related errors
   04: Model-related errors
   05: Container-runtime-related errors
   [yyy] Error code range (000–999)
*/

// public: 00xxx
const (
	InternalError         = PrimusPrefix + "00001"
	BadRequest            = PrimusPrefix + "00002"
	Forbidden             = PrimusPrefix + "00003"
	AlreadyExist          = PrimusPrefix + "00004"
	NotFound              = PrimusPrefix + "00005"
	RequestEntityTooLarge = PrimusPrefix + "00006"
	NotImplemented        = PrimusPrefix + "00007"
	Unauthorized          = PrimusPrefix + "00009"
)

// task: 01xxx
const (
	UnknownTask       = PrimusPrefix + "01001"
	MissingAction     = PrimusPrefix + "01002"
	InvalidDifficulty = PrimusPrefix + "01003"
	ImageNotAllowed   = PrimusPrefix + "01004"
)

// session: 02xxx
const (
	SessionNotFound     = PrimusPrefix + "02001"
	InvalidSessionState = PrimusPrefix + "02002"
	QueueFull           = PrimusPrefix + "02003"
)

// gpu: 03xxx
const (
	CapacityFull = PrimusPrefix + "03001"
)

// model: 04xxx
const (
	ModelNotCached = PrimusPrefix + "04001"
	FetchError     = PrimusPrefix + "04002"
)

// container runtime: 05xxx
const (
	ContainerCreateError = PrimusPrefix + "05001"
	RuntimeUnavailable   = PrimusPrefix + "05002"
)

// returns true if the specified error reason is primus error.
func IsPrimus(err error) bool {
	if err == nil {
		return false
	}
	return strings.HasPrefix(string(apierrors.ReasonForError(err)), PrimusPrefix)
}

func IsBadRequest(err error) bool {
	reason := apierrors.ReasonForError(err)
	if reason == BadRequest || reason == UnknownTask || reason == MissingAction ||
		reason == InvalidDifficulty || reason == ImageNotAllowed {
		return true
	}
	return false
}

func IsInternal(err error) bool {
	return apierrors.ReasonForError(err) == InternalError
}

func IsNotFound(err error) bool {
	reason := apierrors.ReasonForError(err)
	if reason == NotFound || reason == SessionNotFound || reason == InvalidSessionState {
		return true
	}
	return false
}

func IsUnauthorized(err error) bool {
	return apierrors.ReasonForError(err) == Unauthorized
}

func IsCapacityFull(err error) bool {
	return apierrors.ReasonForError(err) == CapacityFull
}

func IsQueueFull(err error) bool {
	return apierrors.ReasonForError(err) == QueueFull
}

// IsRetryable reports whether the error is a capacity refusal that the caller
// may retry after backing off.
func IsRetryable(err error) bool {
	return IsCapacityFull(err) || IsQueueFull(err)
}

func IsFetchError(err error) bool {
	reason := apierrors.ReasonForError(err)
	return reason == FetchError || reason == ModelNotCached
}

func IsRuntimeUnavailable(err error) bool {
	return apierrors.ReasonForError(err) == RuntimeUnavailable
}

func IgnoreFound(err error) error {
	if err == nil || IsNotFound(err) {
		return nil
	}
	return err
}

func GetErrorCode(err error) string {
	if err == nil || !IsPrimus(err) {
		return ""
	}
	return string(apierrors.ReasonForError(err))
}

func NewBadRequest(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusBadRequest,
		Reason:  BadRequest,
		Message: fmt.Sprintf("Bad request. %s", message),
	}}
}

func NewInternalError(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusInternalServerError,
		Reason:  InternalError,
		Message: fmt.Sprintf("Internal error. %s", message),
	}}
}

func NewAlreadyExist(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusConflict,
		Reason:  AlreadyExist,
		Message: message,
	}}
}

func NewForbidden(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusForbidden,
		Reason:  Forbidden,
		Message: message,
	}}
}

func NewNotFoundWithMessage(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusNotFound,
		Reason:  NotFound,
		Message: message,
	}}
}

func NewRequestEntityTooLargeError(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusRequestEntityTooLarge,
		Reason:  RequestEntityTooLarge,
		Message: fmt.Sprintf("Request entity is too large: %s", message),
	}}
}

func NewUnauthorized(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusUnauthorized,
		Reason:  Unauthorized,
		Message: message,
	}}
}

func NewNotImplemented(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusNotImplemented,
		Reason:  NotImplemented,
		Message: message,
	}}
}

func NewUnknownTask(taskName string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusBadRequest,
		Reason:  UnknownTask,
		Message: fmt.Sprintf("Unknown task: %s", taskName),
	}}
}

func NewMissingAction(modelId string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusBadRequest,
		Reason:  MissingAction,
		Message: fmt.Sprintf("No task action configured for model: %s", modelId),
	}}
}

func NewInvalidDifficulty(difficulty string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusBadRequest,
		Reason:  InvalidDifficulty,
		Message: fmt.Sprintf("Invalid difficulty: %s. expect low or high", difficulty),
	}}
}

func NewImageNotAllowed(image string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusBadRequest,
		Reason:  ImageNotAllowed,
		Message: fmt.Sprintf("Docker image is not in the allow list: %s", image),
	}}
}

func NewSessionNotFound(sessionId string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status: metav1.StatusFailure,
		Code:   http.StatusNotFound,
		Reason: SessionNotFound,
		Details: &metav1.StatusDetails{
			Name: sessionId,
		},
		Message: fmt.Sprintf("Session %s not found.", sessionId),
	}}
}

func NewInvalidSessionState(sessionId, state string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status: metav1.StatusFailure,
		Code:   http.StatusNotFound,
		Reason: InvalidSessionState,
		Details: &metav1.StatusDetails{
			Name: sessionId,
		},
		Message: fmt.Sprintf("Session %s is not accepting requests. state: %s", sessionId, state),
	}}
}

func NewQueueFull(sessionId string, size int) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status: metav1.StatusFailure,
		Code:   http.StatusServiceUnavailable,
		Reason: QueueFull,
		Details: &metav1.StatusDetails{
			Name:              sessionId,
			RetryAfterSeconds: 1,
		},
		Message: fmt.Sprintf("Session %s queue is full. size: %d", sessionId, size),
	}}
}

func NewCapacityFull(difficulty string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status: metav1.StatusFailure,
		Code:   http.StatusServiceUnavailable,
		Reason: CapacityFull,
		Details: &metav1.StatusDetails{
			Name:              difficulty,
			RetryAfterSeconds: 5,
		},
		Message: fmt.Sprintf("No available GPU for difficulty: %s", difficulty),
	}}
}

func NewModelNotCached(modelId string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusInternalServerError,
		Reason:  ModelNotCached,
		Message: fmt.Sprintf("Model %s is not cached and auto-fetch is disabled", modelId),
	}}
}

func NewFetchError(modelId, cause string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusInternalServerError,
		Reason:  FetchError,
		Message: fmt.Sprintf("Failed to fetch model %s: %s", modelId, cause),
	}}
}

func NewContainerCreateError(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusInternalServerError,
		Reason:  ContainerCreateError,
		Message: fmt.Sprintf("Failed to create container. %s", message),
	}}
}

func NewRuntimeUnavailable(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusInternalServerError,
		Reason:  RuntimeUnavailable,
		Message: fmt.Sprintf("Container runtime is unavailable. %s", message),
	}}
}

// RetryAfterSeconds extracts the retry hint carried by capacity errors.
// Returns 0 when the error carries none.
func RetryAfterSeconds(err error) int32 {
	status, ok := err.(apierrors.APIStatus)
	if !ok {
		return 0
	}
	details := status.Status().Details
	if details == nil {
		return 0
	}
	return details.RetryAfterSeconds
}
