package auth

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// DefaultPolicy admits callers holding the Display or Modify role.
const DefaultPolicy = `roles.exists(r, r == "Display" || r == "Modify")`

// Input is what a policy expression sees.
type Input struct {
	Method      string
	Function    string
	Destination string
	Subject     string
	Roles       []string
}

// Policy is a compiled CEL authorization expression over method, function,
// destination, subject and roles. It must evaluate to a bool.
type Policy struct {
	expr    string
	program cel.Program
}

// CompilePolicy compiles expr.
func CompilePolicy(expr string) (*Policy, error) {
	env, err := cel.NewEnv(
		cel.Variable("method", cel.StringType),
		cel.Variable("function", cel.StringType),
		cel.Variable("destination", cel.StringType),
		cel.Variable("subject", cel.StringType),
		cel.Variable("roles", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid policy: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy must evaluate to bool, got %s", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build policy program: %w", err)
	}
	return &Policy{expr: expr, program: program}, nil
}

// Expression returns the source expression.
func (p *Policy) Expression() string {
	return p.expr
}

// Allow evaluates the policy for in.
func (p *Policy) Allow(in Input) (bool, error) {
	roles := in.Roles
	if roles == nil {
		roles = []string{}
	}

	out, _, err := p.program.Eval(map[string]interface{}{
		"method":      in.Method,
		"function":    in.Function,
		"destination": in.Destination,
		"subject":     in.Subject,
		"roles":       roles,
	})
	if err != nil {
		return false, fmt.Errorf("policy evaluation failed: %w", err)
	}

	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy returned %T", out.Value())
	}
	return allowed, nil
}
