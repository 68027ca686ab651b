package core

import "net/http"

// ProblemContentType is the media type of every error body the API writes.
const ProblemContentType = "application/problem+json"

// Problem is the error body returned by the HTTP API. Code is a stable,
// machine-readable identifier; Detail is meant for humans.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"error"`
	Status   int    `json:"status"`
	Code     string `json:"code,omitempty"`
	Detail   string `json:"details,omitempty"`
	Instance string `json:"instance,omitempty"`
	TaskID   ID     `json:"task_id,omitempty"`
}

// NewProblem builds a problem for status with the canonical title filled in.
func NewProblem(status int, code, detail string) *Problem {
	return (&Problem{Status: status, Code: code, Detail: detail}).Normalize()
}

// Normalize fills unset fields in place and returns the receiver. A nil
// receiver yields a generic 500.
func (p *Problem) Normalize() *Problem {
	if p == nil {
		p = &Problem{}
	}
	if p.Status < 400 || p.Status > 599 {
		p.Status = http.StatusInternalServerError
	}
	if p.Title == "" {
		p.Title = http.StatusText(p.Status)
	}
	if p.Type == "" {
		p.Type = "about:blank"
	}
	return p
}

// ServerSide reports whether the failure is the server's fault.
func (p *Problem) ServerSide() bool {
	return p.Status >= http.StatusInternalServerError
}
