// Package dispatch validates inbound canvas actions and routes them to the
// canvas operation registered for their category.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/crucial/internal/canvas"
	"github.com/haasonsaas/crucial/internal/registry"
)

// Request is an inbound action.
type Request struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// Result describes what a dispatched action did.
type Result struct {
	Action    string         `json:"action"`
	CanvasID  string         `json:"canvas_id"`
	HumanID   string         `json:"human_id,omitempty"`
	Seq       int64          `json:"seq,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Canvas    *canvas.Canvas `json:"metadata,omitempty"`
}

// Operation applies one validated action to an existing canvas.
type Operation interface {
	Apply(ctx context.Context, manager *canvas.Manager, canvasID, action string, params map[string]any) (*canvas.Action, error)
}

// OperationFunc is a function that implements Operation.
type OperationFunc func(ctx context.Context, manager *canvas.Manager, canvasID, action string, params map[string]any) (*canvas.Action, error)

// Apply implements Operation.
func (f OperationFunc) Apply(ctx context.Context, manager *canvas.Manager, canvasID, action string, params map[string]any) (*canvas.Action, error) {
	return f(ctx, manager, canvasID, action, params)
}

var (
	appendOperation = OperationFunc(func(ctx context.Context, m *canvas.Manager, id, action string, params map[string]any) (*canvas.Action, error) {
		return m.Apply(ctx, id, action, params, canvas.ModeAppend)
	})
	backgroundOperation = OperationFunc(func(ctx context.Context, m *canvas.Manager, id, action string, params map[string]any) (*canvas.Action, error) {
		return m.SetBackground(ctx, id, action, params)
	})
	renderOperation = OperationFunc(func(ctx context.Context, m *canvas.Manager, id, action string, params map[string]any) (*canvas.Action, error) {
		return m.RenderExclusive(ctx, id, action, params)
	})
)

// DefaultOperations returns the operation for every non-create category.
func DefaultOperations() map[registry.Category]Operation {
	return map[registry.Category]Operation{
		registry.CategoryDraw:       appendOperation,
		registry.CategoryTransform:  appendOperation,
		registry.CategoryGraph:      appendOperation,
		registry.CategoryExport:     appendOperation,
		registry.CategoryClear:      appendOperation,
		registry.CategoryBackground: backgroundOperation,
		registry.CategoryRender:     renderOperation,
	}
}

type route struct {
	create bool
	op     Operation
}

// Dispatcher routes actions from the registry to the canvas manager.
type Dispatcher struct {
	registry   *registry.Registry
	manager    *canvas.Manager
	logger     *slog.Logger
	metrics    *canvas.Metrics
	tracer     trace.Tracer
	operations map[registry.Category]Operation
	routes     map[string]route
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics records dispatch counts and latency.
func WithMetrics(metrics *canvas.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = metrics }
}

// WithTracer sets the tracer used for dispatch spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		if tracer != nil {
			d.tracer = tracer
		}
	}
}

// WithOperations replaces the category operation table.
func WithOperations(ops map[registry.Category]Operation) Option {
	return func(d *Dispatcher) { d.operations = ops }
}

// WithOperation overrides the operation for a single category.
func WithOperation(category registry.Category, op Operation) Option {
	return func(d *Dispatcher) {
		if d.operations == nil {
			d.operations = make(map[registry.Category]Operation)
		}
		d.operations[category] = op
	}
}

// New builds the routing table. Every registered action must map to an operation.
func New(reg *registry.Registry, manager *canvas.Manager, opts ...Option) (*Dispatcher, error) {
	if reg == nil {
		return nil, errors.New("dispatch: registry is required")
	}
	if manager == nil {
		return nil, errors.New("dispatch: canvas manager is required")
	}
	d := &Dispatcher{
		registry:   reg,
		manager:    manager,
		logger:     slog.Default(),
		tracer:     otel.Tracer("github.com/haasonsaas/crucial/internal/dispatch"),
		operations: DefaultOperations(),
		routes:     make(map[string]route),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatch")

	for _, schema := range reg.List() {
		if schema.Category == registry.CategoryCreate {
			d.routes[schema.Name] = route{create: true}
			continue
		}
		op := d.operations[schema.Category]
		if op == nil {
			return nil, fmt.Errorf("dispatch: no operation for action %q (category %q)", schema.Name, schema.Category)
		}
		d.routes[schema.Name] = route{op: op}
	}
	return d, nil
}

// Registry returns the schema registry.
func (d *Dispatcher) Registry() *registry.Registry {
	return d.registry
}

// Manager returns the canvas manager.
func (d *Dispatcher) Manager() *canvas.Manager {
	return d.manager
}

// Dispatch validates the request, resolves the target canvas and applies the action.
// Validation always runs before canvas resolution.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (result *Result, err error) {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "dispatch", trace.WithAttributes(
		attribute.String("canvas.action", req.Action),
	))
	defer func() {
		status := "ok"
		if err != nil {
			status = string(canvas.KindOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			d.logger.Warn("dispatch rejected", "action", req.Action, "kind", status, "error", err)
		}
		label := req.Action
		if _, known := d.routes[req.Action]; !known {
			label = "unknown"
		}
		d.metrics.RecordDispatch(label, status, time.Since(start))
		span.End()
	}()

	rt, ok := d.routes[req.Action]
	if !ok {
		return nil, canvas.NotFound("dispatch", "unknown action %q", req.Action)
	}
	if err := d.registry.Validate(req.Action, req.Params); err != nil {
		return nil, canvas.ValidationFailed("validate", err.Error(), err)
	}

	if rt.create {
		return d.create(ctx, req)
	}

	identifier, _ := req.Params[canvas.RoutingKey].(string)
	if identifier == "" {
		return nil, canvas.ValidationFailed("dispatch", fmt.Sprintf("%s is required for %s", canvas.RoutingKey, req.Action), nil)
	}
	canvasID, err := d.manager.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if _, err := d.manager.Get(ctx, canvasID); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("canvas.id", canvasID))

	action, err := rt.op.Apply(ctx, d.manager, canvasID, req.Action, req.Params)
	if err != nil {
		return nil, canvas.DispatchFailure(req.Action, canvasID, err)
	}
	d.logger.Debug("action dispatched", "action", req.Action, "canvas_id", canvasID, "seq", action.Seq)
	return &Result{
		Action:    action.Name,
		CanvasID:  canvasID,
		Seq:       action.Seq,
		Timestamp: action.Timestamp,
	}, nil
}

func (d *Dispatcher) create(ctx context.Context, req Request) (*Result, error) {
	created, err := d.manager.Create(ctx, CreateParamsFrom(req.Params))
	if err != nil {
		if canvas.KindOf(err) == canvas.KindDuplicateIdentifier {
			return nil, err
		}
		return nil, canvas.DispatchFailure(req.Action, "", err)
	}
	return &Result{
		Action:    req.Action,
		CanvasID:  created.ID,
		HumanID:   created.HumanID,
		Timestamp: created.CreatedAt,
		Canvas:    created,
	}, nil
}
