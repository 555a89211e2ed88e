package maincmd

import (
	"context"

	"github.com/mna/mainer"
)

// Preflight runs the artifact load path and reports load errors without
// starting a session, matching original_source's dap_cmd.rs behaviour of
// validating project setup before any DAP traffic (spec.md §6's
// --preflight-check, SPEC_FULL.md §6).
func (c *Cmd) Preflight(ctx context.Context, stdio mainer.Stdio, args []string) error {
	log := newLogger(stdio)
	_, err := LoadArtifactFile(args[0])
	if err != nil {
		log.Error("preflight check failed", "error", err)
		return printError(stdio, err)
	}
	log.Info("preflight check passed", "artifact", args[0])
	return nil
}
