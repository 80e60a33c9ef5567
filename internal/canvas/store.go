package canvas

import (
	"context"
	"encoding/json"
	"iter"
	"time"
)

// TypeScriptRendered marks a canvas whose log was replaced by an exclusive render.
const TypeScriptRendered = "script-rendered"

// Canvas is the metadata row of a drawable surface.
type Canvas struct {
	ID         string    `json:"id"`
	HumanID    string    `json:"human_id"`
	Name       string    `json:"name"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Background string    `json:"background"`
	CanvasType string    `json:"canvas_type,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Action is one recorded mutation in a canvas log.
type Action struct {
	Seq       int64          `json:"seq"`
	CanvasID  string         `json:"canvas_id"`
	Name      string         `json:"action"`
	Params    map[string]any `json:"params"`
	Timestamp time.Time      `json:"timestamp"`
}

// HistoryEntry is the export/import shape of a logged action.
type HistoryEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params"`
}

// Entry converts an action to its history export form.
func (a *Action) Entry() HistoryEntry {
	return HistoryEntry{Timestamp: a.Timestamp, Action: a.Name, Params: a.Params}
}

// APIKey is a stored access key.
type APIKey struct {
	Key       string    `json:"key"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists canvases, their action logs and API keys.
type Store interface {
	Init(ctx context.Context) error
	Close() error

	CreateCanvas(ctx context.Context, canvas *Canvas) error
	GetCanvas(ctx context.Context, id string) (*Canvas, error)
	UpdateCanvas(ctx context.Context, canvas *Canvas) error
	ResolveHumanID(ctx context.Context, alias string) (string, bool, error)
	DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error)

	// AppendAction and CommitAction fail with NotFound, writing nothing, when
	// the canvas is gone. CommitAction also stores the canvas background and type.
	AppendAction(ctx context.Context, action *Action, overwrite bool) error
	CommitAction(ctx context.Context, canvas *Canvas, action *Action, overwrite bool) error
	ListActions(ctx context.Context, canvasID string) ([]*Action, error)
	Actions(ctx context.Context, canvasID string) iter.Seq2[*Action, error]
	ReplaceActions(ctx context.Context, canvasID string, actions []*Action) error

	CreateAPIKey(ctx context.Context, key *APIKey) error
	LookupAPIKey(ctx context.Context, key string) (*APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*APIKey, error)
	DeleteAPIKey(ctx context.Context, key string) error
}

func encodeParams(params map[string]any) (string, error) {
	if params == nil {
		return "{}", nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeParams(raw []byte) (map[string]any, error) {
	params := map[string]any{}
	if len(raw) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, err
	}
	return params, nil
}

func cloneParams(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		out := make(map[string]any, len(params))
		for k, v := range params {
			out[k] = v
		}
		return out
	}
	out := map[string]any{}
	_ = json.Unmarshal(data, &out)
	return out
}

// collect drains a sequence into a slice.
func collect(seq iter.Seq2[*Action, error]) ([]*Action, error) {
	actions := []*Action{}
	for action, err := range seq {
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, nil
}
