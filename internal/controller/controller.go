// Package controller implements the Controller of spec section 4.G:
// spawns one Decision Engine per configured stream policy and owns
// their combined lifecycle and health.
package controller

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"kinesis-shard-autoscaler/internal/config"
	"kinesis-shard-autoscaler/internal/engine"
	"kinesis-shard-autoscaler/internal/metricsource"
	"kinesis-shard-autoscaler/internal/notify"
	"kinesis-shard-autoscaler/internal/report"
	"kinesis-shard-autoscaler/internal/streamcontrol"
)

// Controller owns one Engine per policy and shares no mutable state
// between them, per spec section 5.
type Controller struct {
	SuppressAbortOnFatal bool
	Log                  *logrus.Logger

	engines []*engine.Engine
	wg      sync.WaitGroup
}

// New builds a Controller with one Engine per policy, all sharing the
// same adapter instances. Use this when every policy targets the same
// region (and therefore the same control-plane/metric/notify clients);
// callers with per-region adapters should build engines themselves and
// use NewFromEngines instead.
func New(policies []config.StreamPolicy, metrics metricsource.Source, control streamcontrol.StreamControl, notifier notify.Notifier, suppressAbortOnFatal bool, log *logrus.Logger) *Controller {
	c := &Controller{SuppressAbortOnFatal: suppressAbortOnFatal, Log: log}
	for _, policy := range policies {
		c.engines = append(c.engines, engine.New(policy, metrics, control, notifier, log))
	}
	return c
}

// NewFromEngines builds a Controller over already-constructed engines,
// for callers that must wire distinct adapter instances per engine
// (e.g. one set of AWS clients per policy.Region).
func NewFromEngines(engines []*engine.Engine, suppressAbortOnFatal bool, log *logrus.Logger) *Controller {
	return &Controller{SuppressAbortOnFatal: suppressAbortOnFatal, Log: log, engines: engines}
}

// Start launches every engine's monitor loop.
func (c *Controller) Start(ctx context.Context) {
	for _, e := range c.engines {
		c.wg.Add(1)
		go func(e *engine.Engine) {
			defer c.wg.Done()
			e.Run(ctx)
		}(e)
	}
}

// Stop signals every engine to stop and waits for all loops to exit.
func (c *Controller) Stop() {
	for _, e := range c.engines {
		e.Stop()
	}
	c.wg.Wait()
}

// Healthy reports whether the controller should be considered healthy:
// true unless an engine has surfaced a fatal error and abort-on-fatal
// is not suppressed, per spec section 6.
func (c *Controller) Healthy() bool {
	if c.SuppressAbortOnFatal {
		return true
	}
	for _, e := range c.engines {
		if e.Err() != nil {
			return false
		}
	}
	return true
}

// Failures returns the per-engine captured fatal exceptions, keyed by
// stream name, for a supervising health endpoint.
func (c *Controller) Failures() map[string]error {
	failures := make(map[string]error)
	for _, e := range c.engines {
		if err := e.Err(); err != nil {
			failures[e.Policy.StreamName] = err
		}
	}
	return failures
}

// Reports returns the latest scaling report for every stream that has
// completed at least one iteration, keyed by stream name.
func (c *Controller) Reports() map[string]*report.ScalingReport {
	reports := make(map[string]*report.ScalingReport)
	for _, e := range c.engines {
		if r := e.LatestReport(); r != nil {
			reports[e.Policy.StreamName] = r
		}
	}
	return reports
}
