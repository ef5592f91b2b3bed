/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package sessions

import (
	"time"

	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/channel"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/errors"
)

// Reaper enforces the session idle timeout and lifetime budget. A session in
// WORKING never idles out; the lifetime budget applies in every state.
type Reaper struct {
	registry    *Registry
	interval    time.Duration
	idleTimeout time.Duration
	maxLifetime time.Duration
	clock       clock.Clock
	tomb        *channel.Tomb
}

func NewReaper(registry *Registry, interval, idleTimeout, maxLifetime time.Duration) *Reaper {
	return &Reaper{
		registry:    registry,
		interval:    interval,
		idleTimeout: idleTimeout,
		maxLifetime: maxLifetime,
		clock:       clock.RealClock{},
		tomb:        channel.NewTomb(),
	}
}

func (r *Reaper) Start() {
	klog.Infof("Starting session reaper (interval=%s, idle_timeout=%s, max_lifetime=%s)",
		r.interval, r.idleTimeout, r.maxLifetime)
	go r.run()
}

func (r *Reaper) Stop() {
	r.tomb.Stop()
}

func (r *Reaper) run() {
	defer r.tomb.Done()
	timer := r.clock.NewTimer(r.interval)
	defer timer.Stop()
	for {
		select {
		case <-r.tomb.Stopping():
			return
		case <-timer.C():
			r.reap()
			timer.Reset(r.interval)
		}
	}
}

// reap collects the expired sessions first and kills outside the scan, so a
// slow kill never delays the verdict on the others.
func (r *Reaper) reap() {
	now := r.clock.Now()
	type victim struct {
		sessionId string
		reason    string
	}
	var victims []victim
	for _, session := range r.registry.snapshot() {
		if now.Sub(session.CreatedAt) > r.maxLifetime {
			victims = append(victims, victim{session.Id, "max_lifetime"})
			continue
		}
		if session.Status() == StatusWaiting && now.Sub(session.LastActivity()) > r.idleTimeout {
			victims = append(victims, victim{session.Id, "idle_timeout"})
		}
	}
	for _, v := range victims {
		klog.Infof("Reaping session %s (reason=%s)", v.sessionId, v.reason)
		if err := r.registry.Kill(v.sessionId, v.reason); err != nil && !errors.IsNotFound(err) {
			klog.Warningf("Failed to reap session %s, error: %v", v.sessionId, err)
		}
	}
}
