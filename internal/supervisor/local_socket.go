package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/Epiphytic/captain-hook/internal/decision"
)

// LocalSocketClient connects to a Unix-domain socket derived from a team
// identifier (spec.md §4.H.1) — the same net.Dial("unix", ...) idiom the
// teacher uses for its SSH-agent forwarding transport.
type LocalSocketClient struct {
	SocketPath string
}

// SocketPathForTeam derives the socket path convention from a team
// identifier. Kept as a free function so cmd/ and config wiring can
// compute the same path without constructing a client first.
func SocketPathForTeam(runtimeDir, teamID string) string {
	return fmt.Sprintf("%s/captain-hook-supervisor-%s.sock", runtimeDir, teamID)
}

// EnsureSocketOwnerOnly chmods the socket file to owner-only permissions
// immediately after listen, per spec.md's "the socket file must be created
// with owner-only permissions" constraint. Call this from the side that
// creates the listener; the client side only ever dials.
func EnsureSocketOwnerOnly(path string) error {
	return os.Chmod(path, 0600)
}

type wireRequest struct {
	SanitizedInput   string `json:"sanitized_input"`
	Role             string `json:"role"`
	RoleDescription  string `json:"role_description"`
	Tool             string `json:"tool"`
	FilePath         string `json:"file_path,omitempty"`
	Task             string `json:"task,omitempty"`
	SystemPromptPath string `json:"system_prompt_path,omitempty"`
	WorkingDirectory string `json:"working_directory,omitempty"`
}

type wireResponse struct {
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Evaluate dials the socket, writes req as a single JSON line, and reads a
// single JSON response line bounded by MaxResponseBytes.
func (c *LocalSocketClient) Evaluate(ctx context.Context, req Request, _ Policy) (Verdict, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.SocketPath)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: dial %s: %v", decision.ErrSupervisorError, c.SocketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	payload, err := json.Marshal(wireRequest{
		SanitizedInput: req.SanitizedInput, Role: req.Role, RoleDescription: req.RoleDescription,
		Tool: req.Tool, FilePath: req.FilePath, Task: req.Task,
		SystemPromptPath: req.SystemPromptPath, WorkingDirectory: req.WorkingDirectory,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: marshal request: %v", decision.ErrJSON, err)
	}
	payload = append(payload, '\n')
	if _, err := conn.Write(payload); err != nil {
		return Verdict{}, fmt.Errorf("%w: write request: %v", decision.ErrIpcError, err)
	}

	limited := io.LimitReader(conn, MaxResponseBytes)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: read response: %v", decision.ErrIpcError, err)
	}

	obj, err := ExtractFirstJSONObject(raw)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", decision.ErrJSON, err)
	}
	var wr wireResponse
	if err := json.Unmarshal(obj, &wr); err != nil {
		return Verdict{}, fmt.Errorf("%w: unmarshal response: %v", decision.ErrJSON, err)
	}
	d2 := decision.Decision(wr.Decision)
	if !d2.Valid() {
		return Verdict{}, fmt.Errorf("%w: invalid decision %q in supervisor response", decision.ErrSupervisorError, wr.Decision)
	}
	return Verdict{Decision: d2, Confidence: wr.Confidence, Reason: wr.Reason}, nil
}
