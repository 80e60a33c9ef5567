package dispatch

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/haasonsaas/crucial/internal/canvas"
)

// CreateParamsFrom reads a create request. Width, height and background accept
// their short aliases x, y and color.
func CreateParamsFrom(params map[string]any) canvas.CreateParams {
	return canvas.CreateParams{
		Name:       stringParam(params, "name"),
		Width:      intParam(params, "width", "x"),
		Height:     intParam(params, "height", "y"),
		Background: stringParam(params, "background", "color"),
	}
}

func stringParam(params map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := params[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func intParam(params map[string]any, keys ...string) int {
	for _, key := range keys {
		if n, ok := toInt(params[key]); ok && n > 0 {
			return n
		}
	}
	return 0
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
