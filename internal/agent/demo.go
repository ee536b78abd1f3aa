package agent

import (
	"context"
	"fmt"
)

// StaticHandler answers every prompt with a canned result. It backs the
// server's demo mode so the session layer can be exercised end to end
// without a real completion backend.
type StaticHandler struct{}

func (StaticHandler) Handle(_ context.Context, req Request) (*Result, error) {
	source := req.DataSource
	if source == "" {
		source = "default"
	}
	return &Result{
		Summary: fmt.Sprintf("Demo answer for %q against %s.", req.Prompt, source),
		SQL:     "SELECT 1 AS demo",
		Columns: []string{"demo"},
		PreviewRows: [][]string{
			{"1"},
		},
	}, nil
}
