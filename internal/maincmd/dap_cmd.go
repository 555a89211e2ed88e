package maincmd

import (
	"context"
	"fmt"

	"github.com/creachadair/jrpc2"
	"github.com/mna/mainer"

	"github.com/mna/acirdbg/internal/dap"
	"github.com/mna/acirdbg/internal/engine"
	"github.com/mna/acirdbg/internal/foreigncall"
	"github.com/mna/acirdbg/internal/protocol"
)

// Dap runs the Debug Adapter Protocol front-end over stdio. Like Debug,
// it takes exactly one argument, the path of the artifact to debug, and
// loads that artifact before serving any request. The `launch` request's
// additionalData.projectFolder is not used to find, compile or load an
// artifact.
func (c *Cmd) Dap(ctx context.Context, stdio mainer.Stdio, args []string) error {
	log := newLogger(stdio)
	if len(args) != 1 {
		err := fmt.Errorf("dap: exactly one artifact path must be provided")
		log.Error(err.Error())
		return printError(stdio, err)
	}

	loaded, err := LoadArtifactFile(args[0])
	if err != nil {
		log.Error("failed to load artifact", "error", err)
		return printError(stdio, err)
	}

	executor := foreigncall.New(loaded.Store, loaded.Store.TypeOf)

	// dialedResolver, if non-nil, must be closed once the session ends
	// regardless of which of the two oracleResolver sources set it.
	var dialedResolver *jrpc2.Client
	defer func() {
		if dialedResolver != nil {
			dialedResolver.Close()
		}
	}()

	if c.OracleResolver != "" {
		resolver, client, err := foreigncall.DialJRPC2(ctx, c.OracleResolver)
		if err != nil {
			log.Error("failed to dial oracle resolver", "error", err)
			return printError(stdio, err)
		}
		dialedResolver = client
		executor.SetResolver(resolver)
		log.Info("configured oracle resolver", "address", c.OracleResolver)
	}

	eng := engine.New(engine.Config{MaxForeignCallsPerStep: 10000}, loaded.Circuits, loaded.BrilligProgs, loaded.OuterCircuitID, loaded.InitialWitness, executor, loaded.Store, loaded.Artifact)
	session := protocol.NewSession(ctx, eng, loaded.Artifact)

	onOracleResolver := func(address string) error {
		resolver, client, err := foreigncall.DialJRPC2(ctx, address)
		if err != nil {
			return err
		}
		if dialedResolver != nil {
			dialedResolver.Close()
		}
		dialedResolver = client
		executor.SetResolver(resolver)
		log.Info("configured oracle resolver from launch request", "address", address)
		return nil
	}

	srv := dap.NewServer(stdio.Stdin, stdio.Stdout, log, session, loaded.OuterCircuitID, onOracleResolver)
	if err := srv.Serve(); err != nil {
		log.Error("dap session ended with error", "error", err)
		return printError(stdio, err)
	}
	return nil
}
