package problem

import (
	"encoding/json"
	"net/http"
)

const contentType = "application/problem+json"
const baseTypeURL = "https://errors.ledger-engine.dev/"

// Details represents RFC 7807 Problem Details.
type Details struct {
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Status    int        `json:"status"`
	Detail    string     `json:"detail"`
	Instance  string     `json:"instance"`
	RequestID string     `json:"request_id"`
	Shortfall *Shortfall `json:"shortfall,omitempty"`
}

// Shortfall is the extension member attached to insufficient-funds style problems.
// Amounts are decimal strings.
type Shortfall struct {
	Requested string `json:"requested"`
	Available string `json:"available"`
	Missing   string `json:"missing"`
	Currency  string `json:"currency"`
}

// Option decorates a problem document before it is written.
type Option func(*Details)

// WithShortfall attaches the shortfall extension.
func WithShortfall(s Shortfall) Option {
	return func(d *Details) {
		d.Shortfall = &s
	}
}

func Type(slug string) string {
	return baseTypeURL + slug
}

// Write sends RFC 7807-compliant errors.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string, opts ...Option) {
	if title == "" {
		title = http.StatusText(status)
	}
	if problemType == "" {
		problemType = "about:blank"
	}
	instance := ""
	requestID := ""
	if r != nil {
		instance = r.URL.Path
		requestID = r.Header.Get("X-Trace-ID")
	}
	if requestID == "" {
		requestID = w.Header().Get("X-Trace-ID")
	}

	d := Details{
		Type:      problemType,
		Title:     title,
		Status:    status,
		Detail:    detail,
		Instance:  instance,
		RequestID: requestID,
	}
	for _, opt := range opts {
		opt(&d)
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(d)
}
