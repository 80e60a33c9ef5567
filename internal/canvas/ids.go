package canvas

import (
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/crucial/internal/humanid"
)

// assignIdentifiers fills in any missing identifiers and timestamps on a new canvas.
func assignIdentifiers(canvas *Canvas) {
	if canvas.ID == "" {
		canvas.ID = uuid.NewString()
	}
	if canvas.HumanID == "" {
		canvas.HumanID = humanid.Generate()
	}
	now := time.Now().UTC()
	if canvas.CreatedAt.IsZero() {
		canvas.CreatedAt = now
	}
	if canvas.UpdatedAt.IsZero() {
		canvas.UpdatedAt = canvas.CreatedAt
	}
}

func stampAction(action *Action) {
	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now().UTC()
	}
	if action.Params == nil {
		action.Params = map[string]any{}
	}
}
