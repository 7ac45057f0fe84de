package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/bascanada/epidata/pkg/epidata/client/config"
	"github.com/bascanada/epidata/pkg/epidata/factory"
	"github.com/bascanada/epidata/pkg/log"
	"github.com/bascanada/epidata/pkg/ty"
)

// adhocEngine names the engine built from the command line flags.
const adhocEngine = "adhoc"

// loadConfig returns the configuration and the file it was read from. The
// ad-hoc engine flags replace the file with a single engine configuration.
func loadConfig(path string) (*config.Config, string, error) {
	if cfg, ok, err := adhocConfig(); ok || err != nil {
		return cfg, "", err
	}

	resolved := config.ResolvePath(path)
	cfg, err := config.LoadConfig(resolved)
	if err != nil {
		errorMsg := "failed to load config"
		switch {
		case errors.Is(err, config.ErrConfigParse):
			errorMsg = "invalid configuration file format"
		case errors.Is(err, config.ErrNoEngines):
			errorMsg = "configuration missing 'engines' section"
		}
		if resolved != "" {
			return nil, "", fmt.Errorf("%s %s: %w", errorMsg, resolved, err)
		}
		return nil, "", fmt.Errorf("%s: %w", errorMsg, err)
	}
	log.Debug("using config file %s", resolved)
	return cfg, resolved, nil
}

func adhocConfig() (*config.Config, bool, error) {
	var engines []config.Engine
	if adhocClasspath != "" {
		engines = append(engines, config.Engine{Type: config.EngineProcess, Options: ty.MI{"classpath": adhocClasspath}})
	}
	if adhocEndpoint != "" {
		engines = append(engines, config.Engine{Type: config.EngineRemote, Options: ty.MI{"endpoint": adhocEndpoint}})
	}
	if adhocData != "" {
		engines = append(engines, config.Engine{Type: config.EngineMemory, Options: ty.MI{"data": adhocData}})
	}

	switch len(engines) {
	case 0:
		return nil, false, nil
	case 1:
	default:
		return nil, true, errors.New("--classpath, --endpoint and --data are exclusive")
	}

	engine := engines[0]
	engine.KeyFields = adhocKeyFields
	return &config.Config{
		Engines:  config.Engines{adhocEngine: engine},
		Queries:  config.Queries{},
		Contexts: config.Contexts{},
	}, true, nil
}

// selectedContext is the --id flag, or the current context saved by
// "context use" when it still exists.
func selectedContext(cfg *config.Config) string {
	if contextID != "" {
		return contextID
	}
	state, err := config.LoadState()
	if err != nil {
		log.Warn("failed to read state: %v", err)
		return ""
	}
	if _, ok := cfg.Contexts[state.CurrentContext]; ok {
		return state.CurrentContext
	}
	return ""
}

// openFactories builds the engine and query factories of cfg. The caller
// closes the engine factory.
func openFactories(ctx context.Context, cfg *config.Config) (factory.EngineFactory, factory.QueryFactory, error) {
	engines, err := factory.GetEngineFactory(ctx, cfg.Engines)
	if err != nil {
		return nil, nil, err
	}
	return engines, factory.GetQueryFactory(engines, *cfg), nil
}
