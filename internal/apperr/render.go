package apperr

import "sync/atomic"

var verbose atomic.Bool

// SetVerbose controls whether internal causes are rendered to clients.
// Only development mode turns it on.
func SetVerbose(on bool) {
	verbose.Store(on)
}

// Render maps err onto a status and the {"error": {...}} envelope.
// Errors outside the taxonomy become a generic 500.
func Render(err error) (int, map[string]interface{}) {
	ae, ok := As(err)
	if !ok {
		ae = Internal(CodeInternal, err)
	}

	body := map[string]interface{}{
		"message": ae.Message,
		"code":    ae.Code,
	}
	details := map[string]interface{}{}
	for k, v := range ae.Details {
		details[k] = v
	}
	if verbose.Load() && ae.Err != nil {
		details["cause"] = ae.Err.Error()
	}
	if len(details) > 0 {
		body["details"] = details
	}
	return ae.Status, map[string]interface{}{"error": body}
}
