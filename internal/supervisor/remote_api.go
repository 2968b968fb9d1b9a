package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/time/rate"

	"github.com/Epiphytic/captain-hook/internal/decision"
)

// maxSupervisorQPS bounds how often this process calls the remote
// supervisor API. A cascade under load can produce bursts of Tier 3 calls
// (many undetermined tool calls in a short window); without a limiter a
// single noisy session could exhaust the configured API quota for every
// other session sharing it.
const maxSupervisorQPS = 5

// RemoteAPIClient calls a chat-completion endpoint with a system prompt
// describing the policy and role definitions, and a user message
// restating the request (spec.md §4.H.2). Grounded on the teacher pack's
// only real openai-go/v3 caller.
type RemoteAPIClient struct {
	client  openai.Client
	model   string
	limiter *rate.Limiter
}

// NewRemoteAPIClient builds a RemoteAPIClient. baseURL may be empty to use
// the default OpenAI endpoint, letting the same client type also talk to
// any OpenAI-compatible gateway.
func NewRemoteAPIClient(apiKey, baseURL, model string) *RemoteAPIClient {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "gpt-4o"
	}
	return &RemoteAPIClient{
		client:  openai.NewClient(opts...),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(maxSupervisorQPS), maxSupervisorQPS),
	}
}

func systemPromptFor(pol Policy) string {
	var b strings.Builder
	b.WriteString("You are a tool-call approval supervisor. Respond with a single JSON object ")
	b.WriteString(`{"decision":"allow|deny|ask","confidence":0.0-1.0,"reason":"..."} and nothing else.`)
	b.WriteString("\nRole description: ")
	b.WriteString(pol.RoleDescription)
	if len(pol.AllowWriteGlobs) > 0 {
		b.WriteString("\nAllowed write paths: " + strings.Join(pol.AllowWriteGlobs, ", "))
	}
	if len(pol.DenyWriteGlobs) > 0 {
		b.WriteString("\nDenied write paths: " + strings.Join(pol.DenyWriteGlobs, ", "))
	}
	if len(pol.AllowReadGlobs) > 0 {
		b.WriteString("\nAllowed read paths: " + strings.Join(pol.AllowReadGlobs, ", "))
	}
	return b.String()
}

func userMessageFor(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tool: %s\nRole: %s\n", req.Tool, req.Role)
	if req.FilePath != "" {
		fmt.Fprintf(&b, "File path: %s\n", req.FilePath)
	}
	if req.Task != "" {
		fmt.Fprintf(&b, "Task: %s\n", req.Task)
	}
	if req.WorkingDirectory != "" {
		fmt.Fprintf(&b, "Working directory: %s\n", req.WorkingDirectory)
	}
	fmt.Fprintf(&b, "Sanitized input: %s\n", req.SanitizedInput)
	return b.String()
}

// Evaluate sends the policy-derived system prompt and request-derived user
// message to the chat-completion endpoint and extracts the first
// well-formed JSON object from the reply.
func (c *RemoteAPIClient) Evaluate(ctx context.Context, req Request, pol Policy) (Verdict, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Verdict{}, fmt.Errorf("%w: rate limit wait: %v", decision.ErrSupervisorTimeout, err)
	}

	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPromptFor(pol)),
			openai.UserMessage(userMessageFor(req)),
		},
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: chat completion: %v", decision.ErrSupervisorError, err)
	}
	if len(completion.Choices) == 0 {
		return Verdict{}, fmt.Errorf("%w: no choices returned", decision.ErrSupervisorError)
	}
	content := completion.Choices[0].Message.Content
	if len(content) > MaxResponseBytes {
		content = content[:MaxResponseBytes]
	}

	obj, err := ExtractFirstJSONObject([]byte(content))
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", decision.ErrJSON, err)
	}

	var wr wireResponse
	if err := json.Unmarshal(obj, &wr); err != nil {
		return Verdict{}, fmt.Errorf("%w: unmarshal response: %v", decision.ErrJSON, err)
	}
	d := decision.Decision(wr.Decision)
	if !d.Valid() {
		return Verdict{}, fmt.Errorf("%w: invalid decision %q in supervisor response", decision.ErrSupervisorError, wr.Decision)
	}
	return Verdict{Decision: d, Confidence: wr.Confidence, Reason: wr.Reason}, nil
}
