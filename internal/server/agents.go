package server

import (
	"time"

	"github.com/bridgego-dev/bridgego/internal/invoke"
	"github.com/bridgego-dev/bridgego/pkg/config"
)

// BuildRegistry constructs the invoker registry from configuration. Each
// configured agent id is bound to the invoker its kind selects.
func BuildRegistry(cfg *config.Config) *invoke.Registry {
	reg := invoke.NewRegistry()
	timeout := time.Duration(cfg.SubprocessTimeout) * time.Second

	for id, a := range cfg.Agents {
		switch a.Kind {
		case config.AgentKindCLI:
			reg.Register(id, &invoke.CLIInvoker{
				NodePath:   a.NodePath,
				ScriptPath: a.ScriptPath,
				Args:       a.Args,
				Timeout:    timeout,
			})
		case config.AgentKindOpenAI:
			reg.Register(id, invoke.NewOpenAIInvoker(a.APIKey, a.BaseURL, a.Model))
		case config.AgentKindScripted:
			reg.Register(id, &invoke.Scripted{Outputs: a.Outputs})
		}
	}
	return reg
}
