package canvas

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Action names with engine-level meaning.
const (
	ActionCreate        = "create"
	ActionSetBackground = "set_background"
)

// RoutingKey is the request parameter naming the target canvas. It is never stored.
const RoutingKey = "canvas_id"

// Mode selects how an action is written to the log.
type Mode int

const (
	// ModeAppend adds the action after the existing log.
	ModeAppend Mode = iota
	// ModeOverwrite discards the existing log and leaves only this action.
	ModeOverwrite
)

func (m Mode) String() string {
	if m == ModeOverwrite {
		return "overwrite"
	}
	return "append"
}

// Defaults are applied to create requests that omit a name, dimensions or background.
type Defaults struct {
	Name       string
	Width      int
	Height     int
	Background string
}

// DefaultDefaults mirrors the stock canvas settings.
func DefaultDefaults() Defaults {
	return Defaults{Name: "Untitled", Width: 800, Height: 600, Background: "#000000"}
}

// CreateParams describes a new canvas.
type CreateParams struct {
	Name       string
	Width      int
	Height     int
	Background string
}

// Manager coordinates persistence and realtime broadcasts.
type Manager struct {
	store    Store
	hub      *Hub
	resolver *Resolver
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	defaults Defaults
	locks    *keyedMutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDefaults overrides the create defaults.
func WithDefaults(d Defaults) ManagerOption {
	return func(m *Manager) {
		if d.Name != "" {
			m.defaults.Name = d.Name
		}
		if d.Width > 0 {
			m.defaults.Width = d.Width
		}
		if d.Height > 0 {
			m.defaults.Height = d.Height
		}
		if d.Background != "" {
			m.defaults.Background = d.Background
		}
	}
}

// WithMetrics records creations.
func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithTracer sets the tracer used for store writes.
func WithTracer(tracer trace.Tracer) ManagerOption {
	return func(m *Manager) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

// NewManager creates a canvas manager.
func NewManager(store Store, hub *Hub, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	if hub == nil {
		hub = NewHub(WithHubLogger(logger))
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:    store,
		hub:      hub,
		resolver: NewResolver(store),
		logger:   logger.With("component", "canvas"),
		tracer:   otel.Tracer("github.com/haasonsaas/crucial/internal/canvas"),
		defaults: DefaultDefaults(),
		locks:    newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the configured store.
func (m *Manager) Store() Store {
	return m.store
}

// Hub returns the realtime hub.
func (m *Manager) Hub() *Hub {
	return m.hub
}

// Defaults returns the create defaults in effect.
func (m *Manager) Defaults() Defaults {
	return m.defaults
}

// Resolve maps an alias or id to the canonical id.
func (m *Manager) Resolve(ctx context.Context, identifier string) (string, error) {
	return m.resolver.Resolve(ctx, identifier)
}

// Get returns canvas metadata.
func (m *Manager) Get(ctx context.Context, id string) (*Canvas, error) {
	return m.store.GetCanvas(ctx, id)
}

// Create persists a new canvas. Its log starts empty.
func (m *Manager) Create(ctx context.Context, params CreateParams) (*Canvas, error) {
	ctx, span := m.tracer.Start(ctx, "canvas.create")
	defer span.End()

	canvas := &Canvas{
		Name:       strings.TrimSpace(params.Name),
		Width:      params.Width,
		Height:     params.Height,
		Background: strings.TrimSpace(params.Background),
	}
	if canvas.Name == "" {
		canvas.Name = m.defaults.Name
	}
	if canvas.Width <= 0 {
		canvas.Width = m.defaults.Width
	}
	if canvas.Height <= 0 {
		canvas.Height = m.defaults.Height
	}
	if canvas.Background == "" {
		canvas.Background = m.defaults.Background
	}

	if err := m.store.CreateCanvas(ctx, canvas); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("canvas.id", canvas.ID))

	m.metrics.CanvasCreated()
	m.logger.Debug("canvas created", "canvas_id", canvas.ID, "human_id", canvas.HumanID)
	return canvas, nil
}

// Apply records an action against an existing canvas and broadcasts it.
func (m *Manager) Apply(ctx context.Context, canvasID, name string, params map[string]any, mode Mode) (*Action, error) {
	return m.apply(ctx, canvasID, name, params, mode, nil)
}

// SetBackground records a background change and updates the canvas metadata.
func (m *Manager) SetBackground(ctx context.Context, canvasID, name string, params map[string]any) (*Action, error) {
	color, _ := params["color"].(string)
	return m.apply(ctx, canvasID, name, params, ModeAppend, func(c *Canvas) {
		if color != "" {
			c.Background = color
		}
	})
}

// RenderExclusive replaces the whole log with one render action and marks the canvas script-rendered.
func (m *Manager) RenderExclusive(ctx context.Context, canvasID, name string, params map[string]any) (*Action, error) {
	return m.apply(ctx, canvasID, name, params, ModeOverwrite, func(c *Canvas) {
		c.CanvasType = TypeScriptRendered
	})
}

func (m *Manager) apply(ctx context.Context, canvasID, name string, params map[string]any, mode Mode, update func(*Canvas)) (*Action, error) {
	ctx, span := m.tracer.Start(ctx, "canvas.apply", trace.WithAttributes(
		attribute.String("canvas.id", canvasID),
		attribute.String("canvas.action", name),
		attribute.String("canvas.mode", mode.String()),
	))
	defer span.End()

	unlock := m.locks.Lock(canvasID)
	defer unlock()

	canvas, err := m.store.GetCanvas(ctx, canvasID)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if update != nil {
		update(canvas)
	}

	action := &Action{
		CanvasID:  canvasID,
		Name:      name,
		Params:    storedParams(params),
		Timestamp: time.Now().UTC(),
	}
	// viewers only hear about actions that are durably in the log
	if err := m.store.CommitAction(ctx, canvas, action, mode == ModeOverwrite); err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	m.hub.Publish(MessageForAction(action))
	return action, nil
}

// Replay streams the log of a canvas in order. Each range starts from the beginning.
func (m *Manager) Replay(ctx context.Context, canvasID string) iter.Seq2[*Action, error] {
	return func(yield func(*Action, error) bool) {
		if _, err := m.store.GetCanvas(ctx, canvasID); err != nil {
			yield(nil, err)
			return
		}
		for action, err := range m.store.Actions(ctx, canvasID) {
			if !yield(action, err) || err != nil {
				return
			}
		}
	}
}

// History returns the full log of a canvas.
func (m *Manager) History(ctx context.Context, canvasID string) ([]*Action, error) {
	return collect(m.Replay(ctx, canvasID))
}

// LoadFromLog replaces the log of a canvas with entries and tells live viewers to reload.
func (m *Manager) LoadFromLog(ctx context.Context, canvasID string, entries []HistoryEntry) (int, error) {
	ctx, span := m.tracer.Start(ctx, "canvas.load", trace.WithAttributes(
		attribute.String("canvas.id", canvasID),
		attribute.Int("canvas.entries", len(entries)),
	))
	defer span.End()

	actions := make([]*Action, 0, len(entries))
	now := time.Now().UTC()
	for i, entry := range entries {
		name := strings.TrimSpace(entry.Action)
		if name == "" {
			return 0, ValidationFailed("load", fmt.Sprintf("history entry %d has no action", i), nil)
		}
		ts := entry.Timestamp
		if ts.IsZero() {
			ts = now
		}
		actions = append(actions, &Action{
			CanvasID:  canvasID,
			Name:      name,
			Params:    storedParams(entry.Params),
			Timestamp: ts.UTC(),
		})
	}

	unlock := m.locks.Lock(canvasID)
	defer unlock()

	if err := m.store.ReplaceActions(ctx, canvasID, actions); err != nil {
		recordSpanError(span, err)
		return 0, err
	}
	m.hub.Publish(StreamMessage{Type: MessageReload, CanvasID: canvasID, Timestamp: now})
	m.logger.Info("canvas log replaced", "canvas_id", canvasID, "actions", len(actions))
	return len(actions), nil
}

// storedParams copies params without the routing key.
func storedParams(params map[string]any) map[string]any {
	out := cloneParams(params)
	delete(out, RoutingKey)
	return out
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
