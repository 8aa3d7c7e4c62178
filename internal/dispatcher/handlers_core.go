package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ashureev/clovekernel/internal/effector"
	"github.com/ashureev/clovekernel/internal/kerr"
	"github.com/ashureev/clovekernel/internal/llm"
	"github.com/ashureev/clovekernel/internal/permission"
	"github.com/ashureev/clovekernel/internal/session"
)

// handleNoop echoes the opaque payload back unchanged (spec §6: opcode
// 0x00's payload is opaque bytes, not JSON). writeResponse recognizes the
// rawPayload type and writes it verbatim instead of JSON-marshaling it.
func handleNoop(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	return rawPayload(payload), nil
}

// effectorFor builds an Effector scoped to sess's current permission
// whitelists and, when sess has joined a world, that world's overlay
// (spec §4.7, §4.9). Built fresh per call since whitelists and world
// membership can change between requests.
func (k *Kernel) effectorFor(sess *session.Session) *effector.Effector {
	perms := sess.Perms()
	cfg := effector.Config{
		ReadPaths:  perms.ReadPaths,
		WritePaths: perms.WritePaths,
		ExecAllow:  perms.ExecAllow,
		HTTPAllow:  perms.HTTPAllow,
	}
	var overlay effector.Overlay
	if worldID := sess.World(); worldID != "" {
		if w, ok := k.Worlds.Get(worldID); ok {
			overlay = w
		}
	}
	return effector.New(cfg, overlay)
}

type thinkRequest struct {
	Prompt            string          `json:"prompt"`
	Model             string          `json:"model,omitempty"`
	Temperature       *float64        `json:"temperature,omitempty"`
	MaxTokens         int             `json:"max_tokens,omitempty"`
	ThinkingLevel     string          `json:"thinking_level,omitempty"`
	SystemInstruction string          `json:"system_instruction,omitempty"`
	Image             *thinkImage     `json:"image,omitempty"`
	Tools             json.RawMessage `json:"tools,omitempty"`
}

type thinkImage struct {
	Data     string `json:"data"`
	MimeType string `json:"mime_type"`
}

type thinkResponse struct {
	Success       bool            `json:"success"`
	Content       string          `json:"content"`
	Tokens        int             `json:"tokens,omitempty"`
	FunctionCalls json.RawMessage `json:"function_calls,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// handleThink serializes the request through the LLM scheduler's single
// FIFO queue (spec §4.6).
func handleThink(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	if !sess.Perms().Think {
		return nil, kerr.PermDenied()
	}
	var req thinkRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}

	llmReq := llm.Request{
		Prompt: req.Prompt, Model: req.Model, Temperature: req.Temperature,
		MaxTokens: req.MaxTokens, ThinkingLevel: req.ThinkingLevel,
		SystemInstruction: req.SystemInstruction, Tools: req.Tools,
	}
	if req.Image != nil {
		llmReq.Image = &llm.Image{Data: req.Image.Data, MimeType: req.Image.MimeType}
	}

	resp := k.LLM.Think(ctx, llmReq)
	return thinkResponse{
		Success: resp.Success, Content: resp.Content, Tokens: resp.Tokens,
		FunctionCalls: resp.FunctionCalls, Error: resp.Error,
	}, nil
}

type execRequest struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd,omitempty"`
	Timeout int    `json:"timeout,omitempty"`
}

type execResponse struct {
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// handleExec enforces exec capability then runs the command through the
// session's effector (spec §4.7).
func handleExec(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	if !sess.Perms().Exec {
		return nil, kerr.PermDenied()
	}
	var req execRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	timeout := time.Duration(req.Timeout) * time.Second
	if req.Timeout == 0 {
		timeout = effector.DefaultExecTimeout * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := k.effectorFor(sess).Exec(execCtx, effector.ExecRequest{Command: req.Command, Cwd: req.Cwd, Timeout: req.Timeout})
	return execResponse{
		Success: res.Success, Stdout: res.Stdout, Stderr: res.Stderr,
		ExitCode: res.ExitCode, Error: res.Error,
	}, nil
}

type readRequest struct {
	Path string `json:"path"`
}

type readResponse struct {
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	Size    int64  `json:"size,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleRead enforces read capability then reads through the session's
// effector (spec §4.7).
func handleRead(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	if !sess.Perms().Read {
		return nil, kerr.PermDenied()
	}
	var req readRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	res := k.effectorFor(sess).Read(req.Path)
	return readResponse{Success: res.Success, Content: res.Content, Size: res.Size, Error: res.Error}, nil
}

type writeRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Mode    string `json:"mode"`
}

type writeResponse struct {
	Success      bool  `json:"success"`
	BytesWritten int64 `json:"bytes_written,omitempty"`
	Error        string `json:"error,omitempty"`
}

// handleWrite enforces write capability then writes through the
// session's effector (spec §4.7).
func handleWrite(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	if !sess.Perms().Write {
		return nil, kerr.PermDenied()
	}
	var req writeRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	res := k.effectorFor(sess).Write(req.Path, req.Mode, []byte(req.Content))
	return writeResponse{Success: res.Success, BytesWritten: res.BytesWritten, Error: res.Error}, nil
}

type httpRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	Timeout int               `json:"timeout,omitempty"`
}

type httpResponse struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code,omitempty"`
	Body       string `json:"body,omitempty"`
	Mocked     bool   `json:"mocked,omitempty"`
	Error      string `json:"error,omitempty"`
}

// handleHTTP enforces network capability (and, for the readonly level,
// GET-only per spec §4.2's "http-GET on allowlist") then issues the
// request through the session's effector (spec §4.7).
func handleHTTP(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	perms := sess.Perms()
	if !perms.Network {
		return nil, kerr.PermDenied()
	}
	var req httpRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	method := req.Method
	if method == "" {
		method = "GET"
	}
	if perms.Level == permission.Readonly && method != "GET" {
		return nil, kerr.PermDenied()
	}

	timeout := time.Duration(req.Timeout) * time.Second
	if req.Timeout == 0 {
		timeout = 30 * time.Second
	}
	httpCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := k.effectorFor(sess).HTTP(httpCtx, effector.HTTPRequest{
		URL: req.URL, Method: method, Headers: req.Headers, Body: req.Body, Timeout: req.Timeout,
	})
	return httpResponse{
		Success: res.Success, StatusCode: res.StatusCode, Body: res.Body,
		Mocked: res.Mocked, Error: res.Error,
	}, nil
}
