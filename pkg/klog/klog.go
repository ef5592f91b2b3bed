/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package klog

import (
	"flag"
	"strconv"

	"k8s.io/klog/v2"
)

// Init initializes the klog logging system with the specified log file path
// and maximum log file size. With a file the logs go to the file and stderr
// both; without one they go to stderr only.
func Init(logfilePath string, logFileSize int) error {
	klog.InitFlags(nil)
	if logfilePath != "" {
		flag.Set("log_file", logfilePath)
		flag.Set("alsologtostderr", "true")
		flag.Set("logtostderr", "false")
	}
	flag.Set("skip_log_headers", "true")
	if logFileSize != 0 {
		flag.Set("log_file_max_size", strconv.Itoa(logFileSize))
	}
	flag.Parse()
	return nil
}
