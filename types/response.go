package types

import "time"

// InvokeResponse is the normalized response returned by every agent
// variant. Transports translate their wire format into this shape so the
// engine never sees protocol details.
type InvokeResponse struct {
	Success  bool           `json:"success"`
	Result   map[string]any `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	Latency  time.Duration  `json:"latency"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// OK builds a successful response.
func OK(result map[string]any, latency time.Duration) *InvokeResponse {
	return &InvokeResponse{Success: true, Result: result, Latency: latency}
}

// Fail builds a failed response from an error.
func Fail(err error, latency time.Duration) *InvokeResponse {
	return &InvokeResponse{Success: false, Error: err.Error(), Latency: latency}
}

// WithMetadata attaches a metadata entry.
func (r *InvokeResponse) WithMetadata(key string, value any) *InvokeResponse {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
	return r
}
