// Package httpsteps registers the built-in REST API step library: issue a
// request, keep the response in the scenario scope, assert on status code
// and JSON body. The scope keys it writes are "status" (int) and "body"
// (decoded JSON, or the raw text for non-JSON responses).
package httpsteps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/itchyny/gojq"
	"pkt.systems/gherk/internal/stepdef"
)

const defaultClientTimeout = 15 * time.Second

// Scope keys written by the request steps and read by the assertion steps.
const (
	KeyStatus = "status"
	KeyBody   = "body"
)

// Options configure the step library.
type Options struct {
	// BaseURL is the default API root. A "baseUrl" scope variable (from
	// --var or an env file) takes precedence per scenario.
	BaseURL string
	// Client overrides the HTTP client. Per-step timeouts come from the
	// executor's step context either way.
	Client *http.Client
	// Headers are sent with every request. Defaults to JSON content
	// negotiation when nil.
	Headers map[string]string
}

type library struct {
	opts   Options
	client *http.Client

	jqMu    sync.Mutex
	jqCache map[string]*gojq.Code
}

// Register adds the library's step definitions to the registry.
func Register(reg *stepdef.Registry, opts Options) error {
	lib := &library{opts: opts, jqCache: map[string]*gojq.Code{}}
	lib.client = opts.Client
	if lib.client == nil {
		lib.client = &http.Client{Timeout: defaultClientTimeout}
	}
	if lib.opts.Headers == nil {
		lib.opts.Headers = map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		}
	}

	steps := []struct {
		register func(string, stepdef.Action) error
		pattern  string
		action   stepdef.Action
	}{
		{reg.Given, `I have access to the test API`, lib.checkAccess},
		{reg.Given, `the variable {word} is {string}`, lib.setVariable},
		{reg.When, `I make a GET request to endpoint {string}`, lib.get},
		{reg.When, `I make a POST request to endpoint {string} with body {string}`, lib.post},
		{reg.Then, `I should receive status code {int}`, lib.assertStatus},
		{reg.Then, `the response should contain user id {int}`, lib.assertUserID},
		{reg.Then, `the response JSON at {string} should equal {string}`, lib.assertJQ},
		{reg.Then, `the expression {string} is true`, lib.assertExpr},
	}
	for _, s := range steps {
		if err := s.register(s.pattern, s.action); err != nil {
			return err
		}
	}
	return nil
}

func (l *library) baseURL(sc *stepdef.Scope) string {
	if v := sc.String("baseUrl"); v != "" {
		return v
	}
	return l.opts.BaseURL
}

func (l *library) request(ctx context.Context, sc *stepdef.Scope, method, endpoint string, body io.Reader) (*http.Response, error) {
	base := l.baseURL(sc)
	if base == "" {
		return nil, fmt.Errorf("no base URL configured (set --base-url or a baseUrl variable)")
	}
	url := strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	for k, v := range l.opts.Headers {
		req.Header.Set(k, v)
	}
	return l.client.Do(req)
}

// storeResponse reads the body and keeps status plus decoded JSON in scope.
func storeResponse(sc *stepdef.Scope, resp *http.Response) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	sc.Set(KeyStatus, resp.StatusCode)
	var decoded any
	if json.Unmarshal(data, &decoded) == nil {
		sc.Set(KeyBody, decoded)
	} else {
		sc.Set(KeyBody, string(data))
	}
	return nil
}

func (l *library) checkAccess(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
	resp, err := l.request(ctx, sc, http.MethodGet, "", nil)
	if err != nil {
		return fmt.Errorf("api unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return stepdef.Failf("api access check: status %d", resp.StatusCode)
	}
	return nil
}

func (l *library) setVariable(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
	sc.Set(args.String(0), args.String(1))
	return nil
}

func (l *library) get(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
	resp, err := l.request(ctx, sc, http.MethodGet, args.String(0), nil)
	if err != nil {
		return fmt.Errorf("GET %s: %w", args.String(0), err)
	}
	return storeResponse(sc, resp)
}

func (l *library) post(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
	resp, err := l.request(ctx, sc, http.MethodPost, args.String(0), strings.NewReader(args.String(1)))
	if err != nil {
		return fmt.Errorf("POST %s: %w", args.String(0), err)
	}
	return storeResponse(sc, resp)
}

func (l *library) assertStatus(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
	got, ok := sc.Get(KeyStatus)
	if !ok {
		return fmt.Errorf("no response in scope; issue a request step first")
	}
	if got != args.Int(0) {
		return stepdef.Failf("status code %v, want %d", got, args.Int(0))
	}
	return nil
}

func (l *library) assertUserID(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
	body, ok := sc.Get(KeyBody)
	if !ok {
		return fmt.Errorf("no response in scope; issue a request step first")
	}
	obj, ok := body.(map[string]any)
	if !ok {
		return stepdef.Failf("response body is not a JSON object: %v", body)
	}
	id, ok := obj["id"]
	if !ok {
		return stepdef.Failf("response has no id field: %v", obj)
	}
	// encoding/json decodes numbers as float64.
	if f, ok := id.(float64); !ok || int(f) != args.Int(0) {
		return stepdef.Failf("user id %v, want %d", id, args.Int(0))
	}
	return nil
}

func (l *library) assertJQ(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
	body, ok := sc.Get(KeyBody)
	if !ok {
		return fmt.Errorf("no response in scope; issue a request step first")
	}
	code, err := l.compileJQ(args.String(0))
	if err != nil {
		return fmt.Errorf("jq %q: %w", args.String(0), err)
	}
	iter := code.RunWithContext(ctx, body)
	val, found := iter.Next()
	if !found {
		val = nil
	}
	if jqErr, isErr := val.(error); isErr {
		return fmt.Errorf("jq %q: %w", args.String(0), jqErr)
	}
	if got := fmt.Sprint(jqScalar(val)); got != args.String(1) {
		return stepdef.Failf("jq %q evaluated to %q, want %q", args.String(0), got, args.String(1))
	}
	return nil
}

func (l *library) compileJQ(query string) (*gojq.Code, error) {
	l.jqMu.Lock()
	defer l.jqMu.Unlock()
	if code, ok := l.jqCache[query]; ok {
		return code, nil
	}
	q, err := gojq.Parse(query)
	if err != nil {
		return nil, err
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, err
	}
	l.jqCache[query] = code
	return code, nil
}

// jqScalar renders whole numbers without a trailing ".0" so feature text can
// say `should equal "1"`.
func jqScalar(v any) any {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return int64(f)
	}
	return v
}

func (l *library) assertExpr(ctx context.Context, sc *stepdef.Scope, args stepdef.Args) error {
	env := sc.Values()
	prg, err := expr.Compile(args.String(0), expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return fmt.Errorf("expression %q: %w", args.String(0), err)
	}
	out, err := expr.Run(prg, env)
	if err != nil {
		return fmt.Errorf("expression %q: %w", args.String(0), err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return fmt.Errorf("expression %q is not boolean (got %T)", args.String(0), out)
	}
	if !ok {
		return stepdef.Failf("expression %q is false (env: status=%v)", args.String(0), env[KeyStatus])
	}
	return nil
}
