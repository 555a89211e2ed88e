// Package dap implements the Debug Adapter Protocol front-end: the
// standard DAP handshake over stdio, with stepping/breakpoint/variables
// requests mapped onto internal/protocol commands.
//
// Built on github.com/google/go-dap for the wire message types, the same
// library openllb/hlb uses for its own DAP server, rather than hand
// rolling the protocol's JSON envelopes.
package dap

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/go-dap"

	"github.com/mna/acirdbg/internal/acir"
	"github.com/mna/acirdbg/internal/engine"
	"github.com/mna/acirdbg/internal/protocol"
)

// LaunchArgs is the `additionalData` object carried by a DAP Launch
// request, per spec.md §6.
type LaunchArgs struct {
	ProjectFolder       string `json:"projectFolder"`
	Package             string `json:"package"`
	ProverName          string `json:"proverName"`
	GenerateAcir        bool   `json:"generateAcir"`
	SkipInstrumentation bool   `json:"skipInstrumentation"`
	TestName            string `json:"testName"`
	OracleResolver      string `json:"oracleResolver"`
}

// Server runs the DAP handshake and request loop over r/w (typically
// stdin/stdout), driving session via internal/protocol commands.
type Server struct {
	r       *bufio.Reader
	w       io.Writer
	log     *slog.Logger
	session *protocol.Session
	seq     int

	outerCircuit uint32

	// onOracleResolver is called with the Launch request's
	// additionalData.oracleResolver, if non-empty, once at launch time. It
	// lets the caller dial the oracle and install it on the foreign-call
	// executor backing session without this package needing to know about
	// internal/foreigncall or jrpc2 directly.
	onOracleResolver func(address string) error
}

// NewServer constructs a Server. session must already be positioned at
// the loaded program's outer circuit (outerCircuit). onOracleResolver may
// be nil if the caller has no use for the Launch request's oracleResolver
// field (e.g. it was already configured from a CLI flag).
func NewServer(r io.Reader, w io.Writer, log *slog.Logger, session *protocol.Session, outerCircuit uint32, onOracleResolver func(address string) error) *Server {
	return &Server{r: bufio.NewReader(r), w: w, log: log, session: session, outerCircuit: outerCircuit, onOracleResolver: onOracleResolver}
}

// Serve runs the request loop until the input stream closes or a
// Disconnect request is received.
func (s *Server) Serve() error {
	for {
		req, err := dap.ReadProtocolMessage(s.r)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("dap: reading request: %w", err)
		}
		if s.handle(req) {
			return nil
		}
	}
}

func (s *Server) send(msg dap.Message) {
	if err := dap.WriteProtocolMessage(s.w, msg); err != nil {
		s.log.Error("dap: writing message", "error", err)
	}
}

func (s *Server) nextSeq() int {
	s.seq++
	return s.seq
}

// handle dispatches one request, returning true if the server should stop
// serving afterward.
func (s *Server) handle(req dap.Message) (stop bool) {
	switch r := req.(type) {
	case *dap.InitializeRequest:
		s.onInitialize(r)
	case *dap.LaunchRequest:
		s.onLaunch(r)
	case *dap.SetBreakpointsRequest:
		s.onSetBreakpoints(r)
	case *dap.StackTraceRequest:
		s.onStackTrace(r)
	case *dap.VariablesRequest:
		s.onVariables(r)
	case *dap.NextRequest:
		s.onStep(r.Request, protocol.CmdNextOver)
	case *dap.StepInRequest:
		s.onStep(r.Request, protocol.CmdNextInto)
	case *dap.StepOutRequest:
		s.onStep(r.Request, protocol.CmdNextOut)
	case *dap.ContinueRequest:
		s.onContinue(r)
	case *dap.DisconnectRequest:
		s.send(&dap.DisconnectResponse{Response: newResponse(r.Request, true)})
		return true
	default:
		s.log.Warn("dap: unhandled request", "type", fmt.Sprintf("%T", req))
	}
	return false
}

func newResponse(req dap.Request, success bool) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: 0, Type: "response"},
		RequestSeq:      req.Seq,
		Success:         success,
		Command:         req.Command,
	}
}

func (s *Server) onInitialize(r *dap.InitializeRequest) {
	resp := &dap.InitializeResponse{Response: newResponse(r.Request, true)}
	resp.Body.SupportsConfigurationDoneRequest = true
	resp.Body.SupportsDisassembleRequest = true
	resp.Body.SupportsInstructionBreakpoints = true
	resp.Body.SupportsSteppingGranularity = true
	s.send(resp)
	s.send(&dap.InitializedEvent{Event: dap.Event{ProtocolMessage: dap.ProtocolMessage{Type: "event"}, Event: "initialized"}})
}

func (s *Server) onLaunch(r *dap.LaunchRequest) {
	var args LaunchArgs
	if len(r.Arguments) > 0 {
		var outer struct {
			AdditionalData LaunchArgs `json:"additionalData"`
		}
		if err := json.Unmarshal(r.Arguments, &outer); err == nil {
			args = outer.AdditionalData
		}
	}
	s.log.Info("dap: launch", "projectFolder", args.ProjectFolder, "package", args.Package)
	if args.OracleResolver != "" && s.onOracleResolver != nil {
		if err := s.onOracleResolver(args.OracleResolver); err != nil {
			s.log.Error("dap: launch oracle resolver", "error", err)
		}
	}
	s.send(&dap.LaunchResponse{Response: newResponse(r.Request, true)})
}

func (s *Server) onSetBreakpoints(r *dap.SetBreakpointsRequest) {
	resp := &dap.SetBreakpointsResponse{Response: newResponse(r.Request, true)}
	for _, src := range r.Arguments.Breakpoints {
		res, _ := s.session.Send(protocol.Command{
			Kind:      protocol.CmdFindOpcodeAtCurrentFileLine,
			CircuitID: s.outerCircuit,
			Line:      src.Line,
		})
		verified := res.OpLocOK
		if verified {
			loc := acir.DebugLocation{CircuitID: s.outerCircuit, Loc: res.OpLoc}
			s.session.Send(protocol.Command{Kind: protocol.CmdAddBreakpoint, Breakpoint: loc})
		}
		resp.Body.Breakpoints = append(resp.Body.Breakpoints, dap.Breakpoint{
			Verified: verified,
			Line:     src.Line,
		})
	}
	s.send(resp)
}

func (s *Server) onStackTrace(r *dap.StackTraceRequest) {
	res, _ := s.session.Send(protocol.Command{Kind: protocol.CmdGetCallStack})
	cur, _ := s.session.Send(protocol.Command{Kind: protocol.CmdGetCurrentDebugLocation})
	resp := &dap.StackTraceResponse{Response: newResponse(r.Request, true)}
	frames := make([]dap.StackFrame, 0, len(res.Stack)+1)
	for i, loc := range res.Stack {
		frames = append(frames, dap.StackFrame{Id: i, Name: loc.String()})
	}
	frames = append(frames, dap.StackFrame{Id: len(res.Stack), Name: cur.Location.String()})
	resp.Body.StackFrames = frames
	resp.Body.TotalFrames = len(frames)
	s.send(resp)
}

func (s *Server) onVariables(r *dap.VariablesRequest) {
	res, _ := s.session.Send(protocol.Command{Kind: protocol.CmdGetVariables})
	resp := &dap.VariablesResponse{Response: newResponse(r.Request, true)}
	for _, frame := range res.Vars {
		for _, v := range frame.Vars {
			resp.Body.Variables = append(resp.Body.Variables, dap.Variable{
				Name:  v.Name,
				Value: fmt.Sprint(v.Value),
			})
		}
	}
	s.send(resp)
}

func (s *Server) onStep(req dap.Request, kind protocol.CommandKind) {
	res, _ := s.session.Send(protocol.Command{Kind: kind})
	s.send(&dap.StoppedEvent{
		Event: dap.Event{ProtocolMessage: dap.ProtocolMessage{Type: "event"}, Event: "stopped"},
		Body:  dap.StoppedEventBody{Reason: stopReason(res), ThreadId: 1, AllThreadsStopped: true},
	})
	switch req.Command {
	case "next":
		s.send(&dap.NextResponse{Response: newResponse(req, true)})
	case "stepIn":
		s.send(&dap.StepInResponse{Response: newResponse(req, true)})
	case "stepOut":
		s.send(&dap.StepOutResponse{Response: newResponse(req, true)})
	}
}

func (s *Server) onContinue(r *dap.ContinueRequest) {
	res, _ := s.session.Send(protocol.Command{Kind: protocol.CmdCont})
	s.send(&dap.ContinueResponse{Response: newResponse(r.Request, true)})
	s.send(&dap.StoppedEvent{
		Event: dap.Event{ProtocolMessage: dap.ProtocolMessage{Type: "event"}, Event: "stopped"},
		Body:  dap.StoppedEventBody{Reason: stopReason(res), ThreadId: 1, AllThreadsStopped: true},
	})
}

func stopReason(res protocol.Result) string {
	if res.Kind != protocol.ResStep {
		return "exception"
	}
	switch res.Step.Reason {
	case engine.ReasonBreakpoint:
		return "breakpoint"
	case engine.ReasonFailure:
		return "exception"
	case engine.ReasonSolved:
		return "exit"
	default:
		return "step"
	}
}
