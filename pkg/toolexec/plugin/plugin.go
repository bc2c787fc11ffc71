// Copyright 2025 The DAGForge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package plugin provides an out-of-process toolexec.Executor backed by
// HashiCorp's go-plugin, grounded on the teacher's pkg/plugins/grpc
// loader (same handshake/client-lifecycle shape, adapted from a gRPC
// LLM-provider plugin bus to a single-purpose code-execution plugin).
// This keeps sandboxing genuinely external to the module (spec.md §1
// Non-goal) while giving go-plugin a real, wired caller: the executor
// process runs in its own OS process and is talked to over go-plugin's
// net/rpc transport.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"net/rpc"
	"os/exec"

	hcplugin "github.com/hashicorp/go-plugin"
	"github.com/hashicorp/go-hclog"

	"github.com/dagforge/dagforge/pkg/orcherrors"
	"github.com/dagforge/dagforge/pkg/toolexec"
)

// handshakeConfig must match between host and plugin binary.
var handshakeConfig = hcplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "DAGFORGE_EXECUTOR_PLUGIN",
	MagicCookieValue: "hyperpath",
}

// Invocation/Output mirror toolexec's types but must be net/rpc-safe
// (concrete types, no interfaces) for gob encoding across the wire.
type rpcInvocation struct {
	TaskID           string
	CallName         string
	Input            map[string]any
	PermissionSet    string
	MaxCodeSizeBytes int
}

type rpcOutput struct {
	Result            any
	Metadata          map[string]any
	EscalationNeeded  bool
	CurrentSet        string
	RequestedSet      string
	DetectedOp        string
	ErrMessage        string
}

// Executor is the net/rpc interface a plugin binary must implement.
type Executor interface {
	Execute(inv rpcInvocation, out *rpcOutput) error
}

// executorRPCClient is the host-side net/rpc stub.
type executorRPCClient struct{ client *rpc.Client }

func (c *executorRPCClient) Execute(inv rpcInvocation, out *rpcOutput) error {
	return c.client.Call("Plugin.Execute", inv, out)
}

// executorRPCServer wraps a concrete Executor for net/rpc serving.
type executorRPCServer struct{ Impl Executor }

func (s *executorRPCServer) Execute(inv rpcInvocation, out *rpcOutput) error {
	return s.Impl.Execute(inv, out)
}

// Plugin implements hcplugin.Plugin for the net/rpc transport.
type Plugin struct {
	Impl Executor
}

func (p *Plugin) Server(*hcplugin.MuxBroker) (interface{}, error) {
	return &executorRPCServer{Impl: p.Impl}, nil
}

func (p *Plugin) Client(b *hcplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &executorRPCClient{client: c}, nil
}

var pluginMap = map[string]hcplugin.Plugin{
	"executor": &Plugin{},
}

// HostExecutor is a toolexec.Executor that delegates to an out-of-process
// plugin binary, launching and supervising it via go-plugin.
type HostExecutor struct {
	client     *hcplugin.Client
	rpcClient  executorRPCClient
	binaryPath string
}

// NewHostExecutor launches binaryPath as a go-plugin executor and returns
// a toolexec.Executor bound to it. Callers must call Close when done.
func NewHostExecutor(binaryPath string) (*HostExecutor, error) {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "dagforge-executor-plugin",
		Level: hclog.Warn,
	})

	client := hcplugin.NewClient(&hcplugin.ClientConfig{
		HandshakeConfig: handshakeConfig,
		Plugins:         pluginMap,
		Cmd:             exec.Command(binaryPath),
		Logger:          logger,
		AllowedProtocols: []hcplugin.Protocol{
			hcplugin.ProtocolNetRPC,
		},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("toolexec/plugin: rpc client: %w", err)
	}

	raw, err := rpcClient.Dispense("executor")
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("toolexec/plugin: dispense: %w", err)
	}

	exec, ok := raw.(*executorRPCClient)
	if !ok {
		client.Kill()
		return nil, errors.New("toolexec/plugin: unexpected dispensed type")
	}

	return &HostExecutor{client: client, rpcClient: *exec, binaryPath: binaryPath}, nil
}

// Close terminates the plugin subprocess.
func (h *HostExecutor) Close() {
	if h.client != nil {
		h.client.Kill()
	}
}

// Execute implements toolexec.Executor by round-tripping to the plugin
// subprocess. A PermissionEscalationNeeded reported by the plugin comes
// back as an escalationError, which unwraps to an
// *orcherrors.PermissionEscalationNeeded so pkg/scheduler's
// orcherrors.AsPermissionEscalation recognizes it.
func (h *HostExecutor) Execute(ctx context.Context, inv toolexec.Invocation) (toolexec.Output, error) {
	req := rpcInvocation{
		TaskID:           inv.TaskID,
		CallName:         inv.CallName,
		Input:            inv.Input,
		PermissionSet:    string(inv.Sandbox.PermissionSet),
		MaxCodeSizeBytes: inv.Sandbox.MaxCodeSizeBytes,
	}

	var resp rpcOutput
	done := make(chan error, 1)
	go func() { done <- h.rpcClient.Execute(req, &resp) }()

	select {
	case <-ctx.Done():
		return toolexec.Output{}, ctx.Err()
	case err := <-done:
		if err != nil {
			return toolexec.Output{}, fmt.Errorf("toolexec/plugin: execute: %w", err)
		}
	}

	if resp.EscalationNeeded {
		return toolexec.Output{}, &escalationError{
			currentSet:   resp.CurrentSet,
			requestedSet: resp.RequestedSet,
			detectedOp:   resp.DetectedOp,
		}
	}
	if resp.ErrMessage != "" {
		return toolexec.Output{}, errors.New(resp.ErrMessage)
	}

	return toolexec.Output{Result: resp.Result, Metadata: resp.Metadata}, nil
}

// escalationError carries the same fields as
// orcherrors.PermissionEscalationNeeded; Unwrap exposes them as that type
// for errors.As, and AsEscalation below extracts them directly.
type escalationError struct {
	currentSet, requestedSet, detectedOp string
}

func (e *escalationError) Error() string {
	return fmt.Sprintf("permission escalation needed: %s requires %s (have %s)",
		e.detectedOp, e.requestedSet, e.currentSet)
}

func (e *escalationError) Unwrap() error {
	return &orcherrors.PermissionEscalationNeeded{CurrentSet: e.currentSet, RequestedSet: e.requestedSet, DetectedOp: e.detectedOp}
}

// AsEscalation extracts escalation fields from an error returned by
// HostExecutor.Execute, if it represents a permission escalation.
func AsEscalation(err error) (currentSet, requestedSet, detectedOp string, ok bool) {
	var ee *escalationError
	if errors.As(err, &ee) {
		return ee.currentSet, ee.requestedSet, ee.detectedOp, true
	}
	return "", "", "", false
}
