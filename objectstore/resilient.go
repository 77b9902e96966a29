// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package objectstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ResilienceConfig tunes the retry and breaker behavior shared by all
// bucket calls in a process.
type ResilienceConfig struct {
	MaxAttempts      int           `help:"attempts per bucket operation" default:"3"`
	BackoffBase      time.Duration `help:"first retry delay, doubled each attempt" default:"1s"`
	FailureThreshold uint32        `help:"consecutive failures that open the breaker" default:"5"`
	RecoveryTimeout  time.Duration `help:"open duration before the half-open probe" default:"60s"`
}

// Resilient wraps a Store with retry, a shared circuit breaker and
// per-operation metrics.
type Resilient struct {
	log     *zap.Logger
	store   Store
	config  ResilienceConfig
	breaker *gobreaker.CircuitBreaker

	requests *prometheus.CounterVec
	bytes    prometheus.Counter
}

// NewResilient builds the wrapper and registers its metrics.
func NewResilient(log *zap.Logger, store Store, config ResilienceConfig, reg prometheus.Registerer) *Resilient {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = time.Second
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = time.Minute
	}

	r := &Resilient{
		log:    log,
		store:  store,
		config: config,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goeswatch_bucket_requests_total",
			Help: "Bucket operations by op and result.",
		}, []string{"op", "result"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goeswatch_bucket_bytes_total",
			Help: "Bytes downloaded from the GOES buckets.",
		}),
	}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "bucket",
		MaxRequests: 1, // a single half-open probe
		Timeout:     config.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("bucket breaker state change",
				zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})
	if reg != nil {
		reg.MustRegister(r.requests, r.bytes)
	}
	return r
}

// retryable reports whether the error is worth another attempt.
// Permission and not-found errors are final; timeouts, connection
// failures and throttling responses are not.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "access denied"),
		strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "not found"),
		strings.Contains(msg, "nosuchkey"):
		return false
	}
	return true
}

// execute runs op through the breaker with retries. The breaker wraps
// each attempt individually so a run of retries can trip it, and an open
// breaker short-circuits without touching the network.
func (r *Resilient) execute(ctx context.Context, name string, op func() error) error {
	delay := r.config.BackoffBase
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = delay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = delay * 8
	exp.Reset()

	var err error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		_, err = r.breaker.Execute(func() (any, error) {
			return nil, op()
		})
		if err == nil {
			r.requests.WithLabelValues(name, "ok").Inc()
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			r.requests.WithLabelValues(name, "circuit_open").Inc()
			return ErrCircuitOpen.New("%s rejected", name)
		}
		r.requests.WithLabelValues(name, "error").Inc()
		if !retryable(err) || attempt == r.config.MaxAttempts {
			break
		}
		wait := exp.NextBackOff()
		r.log.Debug("bucket operation retry",
			zap.String("op", name), zap.Int("attempt", attempt),
			zap.Duration("wait", wait), zap.Error(err))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return Error.Wrap(ctx.Err())
		}
	}
	return Error.Wrap(err)
}

// List implements Store.
func (r *Resilient) List(ctx context.Context, bucket, prefix string) (_ []Object, err error) {
	defer mon.Task()(&ctx)(&err)

	var objects []Object
	err = r.execute(ctx, "list", func() error {
		var opErr error
		objects, opErr = r.store.List(ctx, bucket, prefix)
		return opErr
	})
	return objects, err
}

// Download implements Store.
func (r *Resilient) Download(ctx context.Context, bucket, key, dest string) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	var n int64
	err = r.execute(ctx, "download", func() error {
		var opErr error
		n, opErr = r.store.Download(ctx, bucket, key, dest)
		return opErr
	})
	if err == nil {
		r.bytes.Add(float64(n))
	}
	return n, err
}
