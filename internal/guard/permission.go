package guard

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/open-policy-agent/opa/topdown"
)

// PermissionQuery is the Rego rule evaluated for every command.
//
// The policy must define, in package governor:
//
//	permission := {"allow": bool, "reason": string}
//
// with input fields user_id, text, channel and metadata.
const PermissionQuery = "data.governor.permission"

// PermissionStage authorizes commands with an embedded OPA policy.
type PermissionStage struct {
	order int
	path  string

	mu    sync.RWMutex
	query rego.PreparedEvalQuery
}

// NewPermissionStage loads the Rego policy at path.
func NewPermissionStage(order int, path string) (*PermissionStage, error) {
	s := &PermissionStage{order: order, path: path}
	if err := s.Reload(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// NewPermissionStageFromSource compiles raw Rego source.
func NewPermissionStageFromSource(order int, source string) (*PermissionStage, error) {
	s := &PermissionStage{order: order}
	if err := s.loadSource(context.Background(), source); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PermissionStage) Name() string  { return "Permission" }
func (s *PermissionStage) Order() int    { return s.order }
func (s *PermissionStage) Enabled() bool { return true }

// Path returns the policy file, empty for source-built stages.
func (s *PermissionStage) Path() string { return s.path }

func (s *PermissionStage) Check(ctx context.Context, cmd Command) (Result, error) {
	s.mu.RLock()
	query := s.query
	s.mu.RUnlock()

	metadata := make(map[string]any, len(cmd.Metadata))
	for k, v := range cmd.Metadata {
		metadata[k] = v
	}
	input := map[string]any{
		"user_id":  cmd.UserID,
		"text":     cmd.Text,
		"channel":  cmd.Channel,
		"metadata": metadata,
	}

	rs, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		if topdown.IsError(err) {
			return reject(Unauthorized, "permission policy error: "+err.Error()), nil
		}
		return nil, fmt.Errorf("OPA evaluation failed: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return reject(Unauthorized, "permission policy returned no decision"), nil
	}

	decision, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return reject(Unauthorized, "permission policy returned an unexpected result"), nil
	}
	if allow, _ := decision["allow"].(bool); allow {
		return Allowed{}, nil
	}
	reason, _ := decision["reason"].(string)
	if reason == "" {
		reason = "not authorized"
	}
	return reject(Unauthorized, reason), nil
}

// Reload re-reads the Rego policy file and recompiles. On failure the
// previous policy stays active.
func (s *PermissionStage) Reload(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading permission policy file: %w", err)
	}
	return s.loadSource(ctx, string(data))
}

func (s *PermissionStage) loadSource(ctx context.Context, source string) error {
	if _, err := ast.ParseModuleWithOpts("permission.rego", source, ast.ParserOptions{RegoVersion: ast.RegoV1}); err != nil {
		return fmt.Errorf("parsing Rego policy: %w", err)
	}

	r := rego.New(
		rego.Query(PermissionQuery),
		rego.Module("permission.rego", source),
		rego.Store(inmem.New()),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("preparing OPA query: %w", err)
	}

	s.mu.Lock()
	s.query = query
	s.mu.Unlock()
	return nil
}
