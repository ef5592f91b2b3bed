/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package httpserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/errors"
)

type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// Run serves until stopCh closes, then shuts every server down gracefully
// within gracefullyStopTimeout. It returns the aggregated shutdown errors.
func Run(stopCh <-chan struct{}, gracefullyStopTimeout time.Duration, servers ...HTTPServer) error {
	for _, srv := range servers {
		if srv == nil {
			continue
		}
		go func(srv HTTPServer) {
			// service connections
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logrus.WithError(err).Warn("server is not successfully closed")
			}
		}(srv)
	}
	<-stopCh
	logrus.Infoln("Shutdown Server ...")

	var wg sync.WaitGroup
	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		if srv == nil {
			continue
		}
		wg.Add(1)
		go func(srv HTTPServer) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), gracefullyStopTimeout)
			defer cancel()
			errCh <- srv.Shutdown(ctx)
		}(srv)
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for e := range errCh {
		if e != nil {
			errs = append(errs, e)
		}
	}
	return errors.NewAggregate(errs)
}
