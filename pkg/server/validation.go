package server

import (
	"fmt"

	"github.com/bascanada/epidata/pkg/epidata/client"
	"github.com/bascanada/epidata/pkg/epidata/client/config"
	"github.com/bascanada/epidata/pkg/epidata/factory"
)

func validateQueryRequest(cfg *config.Config, req *factory.Request) error {
	if req.ContextID != "" {
		if _, ok := cfg.Contexts[req.ContextID]; !ok {
			return fmt.Errorf("contextId '%s' not found in configuration", req.ContextID)
		}
	}

	for _, inherit := range req.Inherits {
		if _, ok := cfg.Queries[inherit]; !ok {
			return fmt.Errorf("inherit '%s' not found in configuration", inherit)
		}
	}

	if req.Engine != "" {
		if _, ok := cfg.Engines[req.Engine]; !ok {
			return fmt.Errorf("engine '%s' not found in configuration", req.Engine)
		}
	}

	if _, err := client.ParseKind(req.Kind); err != nil {
		return err
	}

	return nil
}
