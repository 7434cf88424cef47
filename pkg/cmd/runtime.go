// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/novu-co/novu-sub003/pkg/cache"
	"github.com/novu-co/novu-sub003/pkg/executionlog"
	"github.com/novu-co/novu-sub003/pkg/filter"
	"github.com/novu-co/novu-sub003/pkg/metrics"
	"github.com/novu-co/novu-sub003/pkg/otelhelper"
	"github.com/novu-co/novu-sub003/pkg/persistence"
	"github.com/novu-co/novu-sub003/pkg/providers"
	"github.com/novu-co/novu-sub003/pkg/queue"
	"github.com/novu-co/novu-sub003/pkg/render"
	"github.com/novu-co/novu-sub003/pkg/services"
	"github.com/novu-co/novu-sub003/pkg/subscriber"
	"github.com/novu-co/novu-sub003/pkg/template"
	"github.com/novu-co/novu-sub003/pkg/tier"
	"github.com/novu-co/novu-sub003/pkg/worker"
	"github.com/novu-co/novu-sub003/pkg/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/trace"
)

// Options are the settings shared by the api and the worker.
type Options struct {
	ServiceName          string
	DatabaseURL          string
	RedisURL             string
	Queue                QueueConfig
	MaxAttempts          int
	RetryBackoff         time.Duration
	WebhookFilterTimeout time.Duration
	BridgeTimeout        time.Duration
	SubscriberDedupTTL   time.Duration
	SubscriberBackoff    time.Duration
	// SigningSecret signs webhook filter and bridge requests. Empty leaves them unsigned.
	SigningSecret string
	Tracing       bool
}

// Runtime holds the infrastructure of a process and builds the services on top of it.
type Runtime struct {
	Persistence persistence.Persistence
	Cache       cache.Cache
	Queue       *Queue
	Metrics     metrics.Sink
	Gatherer    prometheus.Gatherer
	Tracer      trace.Tracer

	opts      Options
	logger    *slog.Logger
	evaluator *filter.Evaluator
	engine    *template.Engine
	tiers     *tier.Validator
	resolver  *subscriber.Resolver
	closers   []func(ctx context.Context) error
}

func NewRuntime(ctx context.Context, opts Options, logger *slog.Logger) (*Runtime, error) {
	r := &Runtime{
		opts:      opts,
		logger:    logger,
		evaluator: filter.NewEvaluator(nil),
		engine:    template.NewEngine(),
		Tracer:    otelhelper.NewNoopTracer(),
	}

	if opts.Tracing {
		tracer, shutdown, err := otelhelper.NewTracer(ctx, opts.ServiceName)
		if err != nil {
			return nil, err
		}

		r.Tracer = tracer
		r.closers = append(r.closers, shutdown)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.Metrics = metrics.NewPrometheusSink(registry, logger)
	r.Gatherer = registry

	p, err := NewPersistence(ctx, logger, opts.DatabaseURL)
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	r.Persistence = p
	r.closers = append(r.closers, p.Close)

	c, redisClient, err := NewCache(ctx, opts.RedisURL, logger)
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	r.Cache = c
	r.closers = append(r.closers, func(context.Context) error { return c.Close() })

	q, err := NewQueue(opts.Queue, redisClient, logger)
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	r.Queue = q
	r.closers = append(r.closers, func(context.Context) error { return q.Close() })

	r.tiers = tier.NewValidator(p.OrganizationRepository(), logger)
	r.resolver = subscriber.NewResolver(p.SubscriberRepository(), c, subscriber.Options{
		DedupTTL: opts.SubscriberDedupTTL,
		Backoff:  opts.SubscriberBackoff,
	}, logger)

	return r, nil
}

func (r *Runtime) fail(ctx context.Context, err error) error {
	return errors.Join(err, r.Close(ctx))
}

// Close releases resources in reverse order of acquisition.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error

	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i](ctx))
	}

	r.closers = nil

	return errors.Join(errs...)
}

func (r *Runtime) Resolver() *subscriber.Resolver {
	return r.resolver
}

func (r *Runtime) TriggerService() *workflow.TriggerService {
	return workflow.NewTriggerService(
		r.Persistence,
		tier.NewResourceValidator(r.tiers, r.Persistence.WorkflowRepository()),
		r.Queue,
		r.Metrics,
		r.Tracer,
		r.logger,
	)
}

func (r *Runtime) WorkflowService() *services.Workflow {
	return services.NewWorkflow(r.Persistence, r.tiers, r.evaluator, r.engine, r.logger)
}

func (r *Runtime) ActivityService() *services.Activity {
	return services.NewActivity(r.Persistence, r.executionLogStore())
}

func (r *Runtime) executionLogStore() *executionlog.Store {
	return executionlog.NewStore(r.Persistence.ExecutionDetailRepository(), r.Metrics, r.logger)
}

func (r *Runtime) secret(context.Context, string) (string, error) {
	return r.opts.SigningSecret, nil
}

// NewProviderRegistry registers the built-in delivery providers.
func NewProviderRegistry(logger *slog.Logger) *providers.Registry {
	registry := providers.NewRegistry(logger)
	registry.Register(providers.NewLogFactory())
	registry.Register(providers.NewInAppFactory())
	registry.Register(providers.NewHTTPFactory(nil))

	return registry
}

// Workers wires the standard, workflow and execution log consumers onto one manager.
func (r *Runtime) Workers(workerID string, registry *providers.Registry) *worker.Manager {
	details := executionlog.NewQueuedWriter(r.Queue)
	digester := workflow.NewDigester(r.Persistence.JobRepository(), r.Cache, r.logger)
	lifecycle := workflow.NewLifecycle(
		r.Persistence.JobRepository(),
		r.Queue,
		details,
		digester,
		r.Metrics,
		r.opts.RetryBackoff,
		r.logger,
	)

	webhooks := filter.NewWebhookClient(&http.Client{}, r.opts.WebhookFilterTimeout, r.secret)

	expander := workflow.NewExpander(workflow.ExpanderDeps{
		Persistence: r.Persistence,
		Resolver:    r.resolver,
		Filterer:    filter.NewStepFilterer(r.evaluator, webhooks, r.logger),
		Tiers:       r.tiers,
		Lifecycle:   lifecycle,
		Digester:    digester,
		Throttler:   workflow.NewThrottler(r.Cache, r.logger),
		Details:     details,
		Cache:       r.Cache,
		Metrics:     r.Metrics,
		Tracer:      r.Tracer,
		Logger:      r.logger,
		MaxAttempts: r.opts.MaxAttempts,
	})

	standard := worker.NewStandardWorker(worker.StandardDeps{
		Persistence: r.Persistence,
		Lifecycle:   lifecycle,
		Renderer:    render.NewRegistry(r.engine),
		Providers:   registry,
		Evaluator:   r.evaluator,
		Bridge:      worker.NewBridgeClient(&http.Client{}, r.opts.BridgeTimeout, r.secret),
		Details:     details,
		Metrics:     r.Metrics,
		Tracer:      r.Tracer,
		Logger:      r.logger,
	})

	manager := worker.NewManager(workerID, r.Queue, r.Metrics, r.Tracer, r.logger)
	workflowWorker := worker.NewWorkflowWorker(expander, r.logger)
	manager.Handle(queue.TopicWorkflow, workflowWorker.Handle)
	manager.OnExhausted(queue.TopicWorkflow, workflowWorker.Exhausted)
	manager.Handle(queue.TopicStandard, standard.Handle)
	manager.Handle(queue.TopicExecutionLog, worker.NewExecutionLogWorker(r.executionLogStore(), r.logger).Handle)

	return manager
}
