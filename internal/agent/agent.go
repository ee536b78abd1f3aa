// Package agent defines the boundary to the prompt handler: the external
// collaborator that turns a natural-language question plus chat history into
// SQL and a structured result. Everything behind Handler is opaque to the
// session layer: potentially slow, fallible, and free to run whatever
// completion and execution stack it wants.
package agent

import (
	"context"
	"net/http"
	"strings"

	"github.com/qwery/backend/internal/chat"
)

// RequestContext exposes header and cookie lookups from the request that
// opened the session. The session layer builds it and passes it through; it
// never interprets identity itself.
type RequestContext struct {
	headers http.Header
	cookies map[string]string
}

func NewRequestContext(headers http.Header, cookies []*http.Cookie) *RequestContext {
	rc := &RequestContext{
		headers: make(http.Header, len(headers)),
		cookies: make(map[string]string, len(cookies)),
	}
	for name, values := range headers {
		rc.headers[strings.ToLower(name)] = values
	}
	for _, c := range cookies {
		rc.cookies[c.Name] = c.Value
	}
	return rc
}

func (rc *RequestContext) Header(name string) string {
	if rc == nil {
		return ""
	}
	return rc.headers.Get(strings.ToLower(name))
}

func (rc *RequestContext) Cookie(name string) string {
	if rc == nil {
		return ""
	}
	return rc.cookies[name]
}

// Request carries one user prompt into the handler.
type Request struct {
	Prompt     string
	DataSource string // active data-source override for the chat, if any
	History    []chat.Entry
	Context    *RequestContext
}

// Result is the structured outcome of a handled prompt.
type Result struct {
	Summary       string
	SQL           string
	Columns       []string
	PreviewRows   [][]string
	Truncated     bool
	CSVFilename   string
	Visualization map[string]any
}

// Handler is the consumed prompt-handler interface.
type Handler interface {
	Handle(ctx context.Context, req Request) (*Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (*Result, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
