package maincmd

import (
	"context"

	"github.com/mna/mainer"

	"github.com/mna/acirdbg/internal/engine"
	"github.com/mna/acirdbg/internal/foreigncall"
	"github.com/mna/acirdbg/internal/protocol"
	"github.com/mna/acirdbg/internal/repl"
)

// Debug loads the artifact at args[0] and drives it from the interactive
// REPL front-end until the session ends (spec.md §6).
func (c *Cmd) Debug(ctx context.Context, stdio mainer.Stdio, args []string) error {
	log := newLogger(stdio)

	loaded, err := LoadArtifactFile(args[0])
	if err != nil {
		log.Error("failed to load artifact", "error", err)
		return printError(stdio, err)
	}

	executor := foreigncall.New(loaded.Store, loaded.Store.TypeOf)
	if c.OracleResolver != "" {
		resolver, client, err := foreigncall.DialJRPC2(ctx, c.OracleResolver)
		if err != nil {
			log.Error("failed to dial oracle resolver", "error", err)
			return printError(stdio, err)
		}
		defer client.Close()
		executor.SetResolver(resolver)
		log.Info("configured oracle resolver", "address", c.OracleResolver)
	}

	eng := engine.New(engine.Config{MaxForeignCallsPerStep: 10000}, loaded.Circuits, loaded.BrilligProgs, loaded.OuterCircuitID, loaded.InitialWitness, executor, loaded.Store, loaded.Artifact)

	session := protocol.NewSession(ctx, eng, loaded.Artifact)

	r, err := repl.New(session, stdio.Stdout, loaded.OuterCircuitID)
	if err != nil {
		log.Error("failed to start repl", "error", err)
		return printError(stdio, err)
	}
	defer r.Close()

	code := r.Run(ctx)
	if code != 0 {
		return printError(stdio, errExecutionHalted)
	}
	return nil
}

var errExecutionHalted = &haltedErr{}

type haltedErr struct{}

func (*haltedErr) Error() string { return "debug session ended without a solved witness stack" }
