// Package acl resolves service access with CEL expressions.
package acl

import (
	"context"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/pkg/errors"

	"github.com/outofforest/rpckit/service"
)

// Variables available to expressions.
const (
	VarService    = "service"
	VarVersion    = "version"
	VarAPI        = "api"
	VarEvent      = "event"
	VarRemoteID   = "remote_id"
	VarRemoteRole = "remote_role"
	VarACL        = "acl"
)

var _ service.ACLResolver = &Policy{}

// Policy is the ACL resolver evaluating compiled CEL expression. The expression must produce
// a bool, e.g. `remote_role == "secondary" && api != "shutdown"`.
type Policy struct {
	expr    string
	program cel.Program
}

// Compile compiles the expression.
func Compile(expr string) (*Policy, error) {
	env, err := cel.NewEnv(
		cel.Variable(VarService, cel.StringType),
		cel.Variable(VarVersion, cel.StringType),
		cel.Variable(VarAPI, cel.StringType),
		cel.Variable(VarEvent, cel.StringType),
		cel.Variable(VarRemoteID, cel.StringType),
		cel.Variable(VarRemoteRole, cel.StringType),
		cel.Variable(VarACL, cel.DynType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "cel env")
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrap(issues.Err(), "cel compile")
	}
	if t := ast.OutputType(); !t.IsExactType(types.BoolType) && !t.IsExactType(types.DynType) {
		return nil, errors.Errorf("expression %q produces %s instead of bool", expr, t)
	}

	prog, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "cel program")
	}

	return &Policy{expr: expr, program: prog}, nil
}

// MustCompile compiles the expression and panics on error.
func MustCompile(expr string) *Policy {
	p, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the expression.
func (p *Policy) String() string {
	return p.expr
}

// Allow evaluates the expression against the access request.
func (p *Policy) Allow(ctx context.Context, req service.AccessRequest) (bool, error) {
	acl := req.ACL
	if acl == nil {
		acl = map[string]any{}
	}

	out, _, err := p.program.ContextEval(ctx, map[string]any{
		VarService:    req.Service,
		VarVersion:    req.Version,
		VarAPI:        req.API,
		VarEvent:      req.Event,
		VarRemoteID:   req.Remote.ID,
		VarRemoteRole: req.Remote.Role,
		VarACL:        acl,
	})
	if err != nil {
		return false, errors.Wrapf(err, "evaluating %q failed", p.expr)
	}

	allowed, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("expression %q produced %T", p.expr, out.Value())
	}
	return allowed, nil
}
