/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package main

import (
	"fmt"

	gpuserver "github.com/AMD-AIG-AIMA/gpu-server/pkg/server"
)

func main() {
	s, err := gpuserver.NewServer()
	if err != nil {
		fmt.Println("failed to new server, err: ", err.Error())
		return
	}
	s.Start()
}
