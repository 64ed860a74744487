// Package genai drives every model call in the pipeline to a typed,
// schema-checked result. Backends cannot be trusted to honor a schema on
// the first try; the retry loop feeds each failure back to the model as
// corrective context until the decoded value validates or attempts run out.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/draftforge/api/internal/client"
)

// DefaultMaxRetries bounds the attempts of a single Generate call.
const DefaultMaxRetries = 10

// Generator is the completion backend. *client.LLMClient satisfies it.
type Generator interface {
	Complete(ctx context.Context, messages []client.ChatMessage) (string, error)
}

// FieldError describes one schema violation in a decoded completion.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) String() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Client wraps a Generator with struct-tag validation.
type Client struct {
	gen        Generator
	validate   *validator.Validate
	maxRetries int
}

func NewClient(gen Generator, maxRetries int) *Client {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Client{
		gen:        gen,
		validate:   validator.New(),
		maxRetries: maxRetries,
	}
}

// Spec describes one structured generation: the prompts and, beyond the
// struct tags of T, an optional cross-field Check.
type Spec[T any] struct {
	System     string
	User       string
	MaxRetries int // overrides the client default when > 0
	Check      func(*T) []FieldError
}

// Generate runs the retry loop until the completion decodes into T and
// passes validation. A parse failure, an empty completion and a schema
// failure all take the same path: the invalid assistant turn plus a
// correction message are appended to the transcript and the call is
// retried. Attempts are counted, not time-bounded, and there is no backoff;
// latency is dominated by the completion call itself. The transcript is
// local to this invocation.
func Generate[T any](ctx context.Context, c *Client, spec Spec[T]) (T, error) {
	var zero T

	attempts := spec.MaxRetries
	if attempts <= 0 {
		attempts = c.maxRetries
	}

	transcript := []client.ChatMessage{
		{Role: client.RoleSystem, Content: spec.System},
		{Role: client.RoleUser, Content: spec.User},
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		raw, err := c.gen.Complete(ctx, transcript)
		if err != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			// No assistant turn to correct; count the attempt and retry.
			lastErr = fmt.Errorf("completion call: %w", err)
			continue
		}

		out, fieldErrs := decode[T](c, raw, spec.Check)
		if len(fieldErrs) == 0 {
			return out, nil
		}

		lastErr = fmt.Errorf("attempt %d: %s", attempt, joinFieldErrors(fieldErrs))
		transcript = append(transcript,
			client.ChatMessage{Role: client.RoleAssistant, Content: raw},
			client.ChatMessage{Role: client.RoleUser, Content: correctionMessage(fieldErrs)},
		)
	}

	return zero, fmt.Errorf("no valid completion after %d attempts: %w", attempts, lastErr)
}

func decode[T any](c *Client, raw string, check func(*T) []FieldError) (T, []FieldError) {
	var out T

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return out, []FieldError{{Message: "the response body was empty; respond with the requested JSON object"}}
	}

	if err := json.Unmarshal([]byte(ExtractJSON(trimmed)), &out); err != nil {
		return out, []FieldError{{Message: fmt.Sprintf("the response was not valid JSON: %v", err)}}
	}

	if err := c.validate.Struct(&out); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			return out, describeValidationErrors(verrs)
		}
		return out, []FieldError{{Message: err.Error()}}
	}

	if check != nil {
		if errs := check(&out); len(errs) > 0 {
			return out, errs
		}
	}

	return out, nil
}

func describeValidationErrors(verrs validator.ValidationErrors) []FieldError {
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("failed %q validation", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %q validation (param %s)", fe.Tag(), fe.Param())
		}
		out = append(out, FieldError{Field: trimNamespace(fe.Namespace()), Message: msg})
	}
	return out
}

// trimNamespace drops the root struct name from a validator namespace,
// leaving the JSON-ish field path.
func trimNamespace(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func joinFieldErrors(errs []FieldError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.String()
	}
	return strings.Join(parts, "; ")
}

func correctionMessage(errs []FieldError) string {
	var sb strings.Builder
	sb.WriteString("Your previous response was invalid:\n")
	for _, e := range errs {
		sb.WriteString("- ")
		sb.WriteString(e.String())
		sb.WriteString("\n")
	}
	sb.WriteString("\nRespond again with only a JSON object that fixes these problems. Do not include any text outside the JSON.")
	return sb.String()
}

// ExtractJSON extracts the JSON object from a response that may contain
// extra text around it.
func ExtractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")

	if start != -1 && end != -1 && end > start {
		return s[start : end+1]
	}
	return s
}
