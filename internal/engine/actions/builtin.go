package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flowline-ai/flowline/internal/pkg/httpclient"
)

// RegisterBuiltins installs the core action catalog.
func RegisterBuiltins(r *Registry) error {
	builtins := []*Registration{
		{ActionType: "core.echo", Enabled: true, Local: echoAction},
		{ActionType: "core.noop", Enabled: true, Local: noopAction},
		{ActionType: "core.delay", Enabled: true, Local: delayAction},
		{ActionType: "core.set", Enabled: true, Local: setAction},
		{ActionType: "core.transform", Enabled: true, Local: transformAction},
		{ActionType: "core.log", Enabled: true, Local: logAction},
		{ActionType: "core.http", Enabled: true, Local: httpAction},
	}
	for _, reg := range builtins {
		if err := r.Register(reg); err != nil {
			return err
		}
	}
	return nil
}

func echoAction(ctx context.Context, inv *Invocation) (*Result, error) {
	outputs := map[string]interface{}{
		"echo": inv.Parameters["msg"],
	}
	return Succeeded(outputs), nil
}

func noopAction(ctx context.Context, inv *Invocation) (*Result, error) {
	return Succeeded(map[string]interface{}{}), nil
}

func delayAction(ctx context.Context, inv *Invocation) (*Result, error) {
	ms := paramInt(inv.Parameters, "durationMs", 1000)

	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return Succeeded(map[string]interface{}{"waitedMs": ms}), nil
	}
}

func setAction(ctx context.Context, inv *Invocation) (*Result, error) {
	// Everything rendered into parameters becomes the node's output.
	outputs := make(map[string]interface{}, len(inv.Parameters))
	for k, v := range inv.Parameters {
		outputs[k] = v
	}
	return Succeeded(outputs), nil
}

// transformAction reshapes an object: optional "pick" keeps only the listed
// keys, optional "rename" maps old names to new ones. Templating has already
// rendered "input" by the time this runs.
func transformAction(ctx context.Context, inv *Invocation) (*Result, error) {
	input, ok := inv.Parameters["input"].(map[string]interface{})
	if !ok {
		return Failed("core.transform: input must be an object"), nil
	}

	out := make(map[string]interface{}, len(input))
	if picks, ok := inv.Parameters["pick"].([]interface{}); ok {
		for _, p := range picks {
			key, ok := p.(string)
			if !ok {
				continue
			}
			if v, present := input[key]; present {
				out[key] = v
			}
		}
	} else {
		for k, v := range input {
			out[k] = v
		}
	}

	if renames, ok := inv.Parameters["rename"].(map[string]interface{}); ok {
		for from, to := range renames {
			name, ok := to.(string)
			if !ok || name == "" {
				continue
			}
			if v, present := out[from]; present {
				delete(out, from)
				out[name] = v
			}
		}
	}

	return Succeeded(out), nil
}

func logAction(ctx context.Context, inv *Invocation) (*Result, error) {
	log.Info().
		Str("execution_id", inv.ExecutionID.String()).
		Str("node_id", inv.NodeID).
		Interface("message", inv.Parameters["message"]).
		Msg("workflow log action")
	return Succeeded(map[string]interface{}{"logged": true}), nil
}

func httpAction(ctx context.Context, inv *Invocation) (*Result, error) {
	method := paramString(inv.Parameters, "method", http.MethodGet)
	url := paramString(inv.Parameters, "url", "")
	if url == "" {
		return Failed("core.http: url is required"), nil
	}

	var body io.Reader
	if raw, ok := inv.Parameters["body"]; ok && method != http.MethodGet && method != http.MethodHead {
		data, err := json.Marshal(raw)
		if err != nil {
			return Failed("core.http: failed to marshal body: %v", err), nil
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return Failed("core.http: %v", err), nil
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := inv.Parameters["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}
	req.Header.Set(HeaderCorrelationID, inv.CorrelationID)

	resp, err := httpclient.Default().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return Retriable("core.http: %v", err), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return Retriable("core.http: failed to read response: %v", err), nil
	}

	outputs := map[string]interface{}{
		"statusCode": resp.StatusCode,
		"headers":    flattenHeaders(resp.Header),
	}
	var parsed interface{}
	if json.Unmarshal(respBody, &parsed) == nil {
		outputs["body"] = parsed
	} else {
		outputs["body"] = string(respBody)
	}

	if resp.StatusCode >= 500 {
		return &Result{Status: StatusRetriableFailure, Outputs: outputs,
			ErrorMessage: fmt.Sprintf("core.http: HTTP %d", resp.StatusCode)}, nil
	}
	if resp.StatusCode >= 400 {
		return &Result{Status: StatusFailed, Outputs: outputs,
			ErrorMessage: fmt.Sprintf("core.http: HTTP %d", resp.StatusCode)}, nil
	}
	return &Result{Status: StatusSucceeded, Outputs: outputs}, nil
}

func flattenHeaders(h http.Header) map[string]interface{} {
	out := make(map[string]interface{}, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func paramString(m map[string]interface{}, key, defaultVal string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return defaultVal
}

func paramInt(m map[string]interface{}, key string, defaultVal int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return defaultVal
}
