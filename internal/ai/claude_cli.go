package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// cleanEnv returns os.Environ() without the variables of an enclosing
// claude session, which would otherwise refuse to start a nested one.
func cleanEnv() []string {
	blocked := map[string]bool{
		"CLAUDECODE":             true,
		"CLAUDE_CODE_ENTRYPOINT": true,
	}
	var env []string
	for _, e := range os.Environ() {
		key, _, _ := strings.Cut(e, "=")
		if !blocked[key] {
			env = append(env, e)
		}
	}
	return env
}

// ClaudeCLI proposes planner input by shelling out to the claude binary
// with a JSON schema.
type ClaudeCLI struct {
	Model      string
	Binary     string
	OnThinking func(text string) // optional: receives streamed text
	logger     *slog.Logger
	now        func() time.Time
}

func NewClaudeCLI(model string, logger *slog.Logger) *ClaudeCLI {
	if model == "" {
		model = "sonnet"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ClaudeCLI{Model: model, Binary: "claude", logger: logger, now: time.Now}
}

func (c *ClaudeCLI) ProposeCommitments(ctx context.Context, text string) ([]byte, error) {
	return c.propose(ctx, commitmentTask(), text)
}

func (c *ClaudeCLI) ProposeAssignments(ctx context.Context, text string) ([]byte, error) {
	return c.propose(ctx, assignmentTask(c.now()), text)
}

func (c *ClaudeCLI) propose(ctx context.Context, t task, text string) ([]byte, error) {
	userPrompt := buildUserPrompt(t, text)
	args := []string{
		"-p", userPrompt,
		"--output-format", "json",
		"--model", c.Model,
		"--system-prompt", t.system,
		"--json-schema", t.schema,
		"--no-session-persistence",
	}

	c.logger.Debug("invoking claude CLI",
		"task", t.name,
		"model", c.Model,
		"system_prompt_len", len(t.system),
		"user_prompt_len", len(userPrompt),
		"schema_len", len(t.schema),
	)

	var (
		out []byte
		err error
	)
	if c.OnThinking != nil {
		out, err = c.runStreaming(ctx, args)
	} else {
		out, err = c.runBuffered(ctx, args)
	}
	if err != nil {
		return nil, err
	}

	c.logger.Debug("claude CLI proposal",
		"task", t.name,
		"len", len(out),
		"result", truncateStr(string(out), 2000),
	)
	return out, nil
}

func (c *ClaudeCLI) runBuffered(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	cmd.Env = cleanEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	elapsed := time.Since(started)

	c.logger.Debug("claude CLI finished",
		"elapsed", elapsed,
		"stdout_bytes", stdout.Len(),
		"stderr_bytes", stderr.Len(),
	)
	if err != nil {
		return nil, c.cliError(ctx, err, elapsed, stderr.String())
	}

	return unwrapEnvelope(stdout.Bytes()), nil
}

// streamEvent is one line of stream-json output.
type streamEvent struct {
	Type             string          `json:"type"`
	Result           json.RawMessage `json:"result,omitempty"`
	StructuredOutput json.RawMessage `json:"structured_output,omitempty"`
	Delta            struct {
		Text string `json:"text,omitempty"`
	} `json:"delta"`
	Message struct {
		Content []struct {
			Type string `json:"type,omitempty"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"message"`
}

func (c *ClaudeCLI) runStreaming(ctx context.Context, args []string) ([]byte, error) {
	streamArgs := make([]string, 0, len(args)+1)
	for i, a := range args {
		if a == "json" && i > 0 && args[i-1] == "--output-format" {
			a = "stream-json"
		}
		streamArgs = append(streamArgs, a)
	}
	streamArgs = append(streamArgs, "--verbose")

	cmd := exec.CommandContext(ctx, c.Binary, streamArgs...)
	cmd.Env = cleanEnv()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting claude CLI: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var result []byte
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			c.logger.Debug("skipping unparseable stream line", "error", err)
			continue
		}

		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Text != "" {
				c.OnThinking(ev.Delta.Text)
			}
		case "assistant":
			for _, block := range ev.Message.Content {
				if block.Type == "text" && block.Text != "" {
					c.OnThinking(block.Text)
				}
			}
		case "result":
			result = unwrapEnvelope(line)
		}
	}

	elapsed := time.Since(started)
	if err := cmd.Wait(); err != nil {
		return nil, c.cliError(ctx, err, elapsed, stderr.String())
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("no result received from claude CLI stream")
	}
	return result, nil
}

func (c *ClaudeCLI) cliError(ctx context.Context, err error, elapsed time.Duration, stderr string) error {
	c.logger.Error("claude CLI failed",
		"error", err,
		"elapsed", elapsed,
		"stderr", stderr,
	)
	if ctx.Err() != nil {
		return fmt.Errorf("claude CLI timed out after %s", elapsed.Truncate(time.Second))
	}
	return fmt.Errorf("running claude CLI: %w (stderr: %s)", err, stderr)
}

// unwrapEnvelope extracts the model's JSON from claude's output envelope,
// preferring structured_output over result. Output that is not an envelope
// is returned unchanged.
func unwrapEnvelope(data []byte) []byte {
	var env struct {
		Result           json.RawMessage `json:"result"`
		StructuredOutput json.RawMessage `json:"structured_output"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return data
	}

	if len(env.StructuredOutput) > 0 && (env.StructuredOutput[0] == '{' || env.StructuredOutput[0] == '[') {
		return env.StructuredOutput
	}
	if len(env.Result) > 0 {
		// result is usually the JSON document encoded as a string
		var s string
		if err := json.Unmarshal(env.Result, &s); err == nil && s != "" {
			return []byte(s)
		}
		if env.Result[0] == '{' || env.Result[0] == '[' {
			return env.Result
		}
	}
	return data
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
