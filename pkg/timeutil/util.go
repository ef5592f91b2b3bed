/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package timeutil

import (
	"time"
)

// TimeRFC3339Milli is the timestamp layout of every API view. Rendering is
// always UTC; trailing fractional zeros are dropped.
const TimeRFC3339Milli = "2006-01-02T15:04:05.999Z"

func FormatRFC3339Milli(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeRFC3339Milli)
}

func CvtStrToRFC3339Milli(timeStr string) (time.Time, error) {
	if timeStr == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(TimeRFC3339Milli, timeStr)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
