/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package timeutil

import (
	"testing"
	"time"

	"gotest.tools/assert"
)

func TestFormatRFC3339Milli(t *testing.T) {
	ts := time.Date(2025, 8, 18, 9, 41, 1, 951000000, time.UTC)
	assert.Equal(t, FormatRFC3339Milli(ts), "2025-08-18T09:41:01.951Z")

	// Rendering converts to UTC first.
	inParis := ts.In(time.FixedZone("CET", 2*3600))
	assert.Equal(t, FormatRFC3339Milli(inParis), "2025-08-18T09:41:01.951Z")

	assert.Equal(t, FormatRFC3339Milli(time.Time{}), "")
}

func TestCvtStrToRFC3339Milli(t *testing.T) {
	timeStr := "2025-08-18T09:41:01.950926221Z"
	time1, err := CvtStrToRFC3339Milli(timeStr)
	assert.NilError(t, err)

	timeStr = "2025-08-18T09:41:01.950Z"
	time2, err := CvtStrToRFC3339Milli(timeStr)
	assert.NilError(t, err)
	assert.Equal(t, time1.Unix(), time2.Unix())

	time3, err := CvtStrToRFC3339Milli("")
	assert.NilError(t, err)
	assert.Equal(t, time3.IsZero(), true)
}

func TestFormatParseRoundTrip(t *testing.T) {
	ts := time.Date(2025, 8, 18, 9, 41, 1, 951000000, time.UTC)
	parsed, err := CvtStrToRFC3339Milli(FormatRFC3339Milli(ts))
	assert.NilError(t, err)
	assert.Equal(t, parsed.Equal(ts), true)
}
