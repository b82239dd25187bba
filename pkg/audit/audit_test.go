package audit_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/aretw0/stratum/internal/logging"
	"github.com/aretw0/stratum/pkg/audit"
	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogAuditor_Trail(t *testing.T) {
	var buf bytes.Buffer
	a := audit.NewLogAuditor(logging.NewWithFormat(&buf, slog.LevelInfo, "text"))
	ctx := context.Background()
	req := ports.AuditRequest{StrategyID: "policy-gen-42", SessionID: "s1", NodeID: "node-a", Context: map[string]any{"password": "hunter2"}}

	id, err := a.Start(ctx, req)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.NoError(t, a.Complete(ctx, id, req, &domain.ExecutionResult{Success: true}))
	require.NoError(t, a.Fail(ctx, id, req, domain.ErrConflict))

	out := buf.String()
	assert.Contains(t, out, "audit_id="+id)
	assert.Contains(t, out, "success=true")
	assert.Contains(t, out, "kind=conflict")
	assert.NotContains(t, out, "hunter2")
}

func TestNop(t *testing.T) {
	var a ports.Auditor = audit.Nop{}
	id, err := a.Start(context.Background(), ports.AuditRequest{})
	assert.NoError(t, err)
	assert.Empty(t, id)
	assert.NoError(t, a.Fail(context.Background(), id, ports.AuditRequest{}, errors.New("x")))
}
