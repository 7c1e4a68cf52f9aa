// Package importer converts API descriptions into runnable feature
// skeletons. ImportOpenAPI reads an OpenAPI 3 or Swagger 2 document and
// writes one .feature file per operation group plus an env file seeding
// baseUrl and any auth placeholders the spec's security schemes call for.
package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi2conv"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/oasdiff/yaml"
	"pkt.systems/gherk/internal/gherkin"
	"pkt.systems/pslog"
)

// EnvFileName is the env file written next to the generated features.
const EnvFileName = "gherk.env"

// verbOrder fixes the emission order of operations under one route.
var verbOrder = []string{"get", "post", "put", "patch", "delete", "options", "head", "trace"}

// ImportOpenAPI generates feature skeletons from an OpenAPI/Swagger spec.
func ImportOpenAPI(ctx context.Context, opts Options) error {
	var (
		doc      *openapi3.T
		err      error
		data     []byte
		location *url.URL
	)

	if isURL(opts.Source) {
		client := http.DefaultClient
		if opts.Insecure {
			client = insecureHTTPClient()
		}
		data, err = fetchWithClient(opts.Source, client)
		location = mustParse(opts.Source)
	} else {
		if !filepath.IsAbs(opts.Source) {
			if abs, errAbs := filepath.Abs(opts.Source); errAbs == nil {
				opts.Source = abs
			}
		}
		data, err = os.ReadFile(opts.Source)
		location = &url.URL{Path: filepath.ToSlash(opts.Source)}
	}
	if err != nil {
		return fmt.Errorf("load openapi source: %w", err)
	}
	opts.BaseLocation = location

	if isSwagger2Data(data) {
		doc, err = loadSwaggerAsV3(ctx, data, location, opts)
	} else {
		doc, err = loadOpenAPIv3(ctx, data, location, opts)
	}
	if err != nil {
		return fmt.Errorf("load openapi: %w", err)
	}

	if !opts.GenerateAssertionsSet {
		opts.GenerateAssertions = true
	}

	log := opts.Logger
	if log == nil {
		log = pslog.NewWithOptions(os.Stdout, pslog.Options{Mode: pslog.ModeConsole, MinLevel: pslog.InfoLevel})
	}
	log = log.With("fn", pslog.CurrentFn())

	if verr := doc.Validate(ctx); verr != nil {
		log.Warn("import.openapi.validate.warn", "err", verr)
	}
	log.Debug("import.openapi.loaded", "servers", len(doc.Servers), "paths", len(doc.Paths.Map()))

	if opts.OutputDir != "" {
		if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
			return err
		}
	}

	log.Info("import.openapi.start", "source", opts.Source, "output", opts.OutputDir)

	baseURL := ""
	if len(doc.Servers) > 0 {
		baseURL = doc.Servers[0].URL
	}
	if baseURL == "" {
		baseURL = "https://api.example.com"
	}

	suiteName := opts.SuiteName
	if suiteName == "" {
		if doc.Info != nil && doc.Info.Title != "" {
			suiteName = doc.Info.Title
		} else {
			suiteName = "imported-openapi"
		}
	}

	envVars := map[string]string{
		"baseUrl": baseURL,
	}

	groups := collectGroups(doc, suiteName, opts, envVars, log)

	existing := map[string]int{}
	written := 0
	for _, g := range groups {
		gdoc := gherkin.Document{Features: []gherkin.Feature{g.feature}}
		content := fmt.Sprintf("# Generated from %s\n%s", opts.Source, gdoc.Source())
		filename := uniqueFileName(existing, "", g.name)
		if err := writeOutput(opts.OutputDir, filename, content); err != nil {
			return err
		}
		written++
		log.Debug("import.openapi.feature.written", "file", filename, "scenarios", len(g.feature.Scenarios))
	}

	if err := writeOutput(opts.OutputDir, EnvFileName, renderEnv(envVars)); err != nil {
		return err
	}

	log.Info("import.openapi.done", "features", written, "env", EnvFileName)
	return nil
}

type group struct {
	name    string
	feature gherkin.Feature
}

// collectGroups walks the spec's operations in deterministic order and folds
// them into one feature per group (tag or leading path segment).
func collectGroups(doc *openapi3.T, suiteName string, opts Options, envVars map[string]string, log pslog.Logger) []group {
	byName := map[string]*gherkin.Feature{}
	var order []string

	routes := make([]string, 0, len(doc.Paths.Map()))
	for route := range doc.Paths.Map() {
		routes = append(routes, route)
	}
	sort.Strings(routes)

	for _, route := range routes {
		if !shouldIncludePath(route, opts.IncludePaths) {
			continue
		}
		item := doc.Paths.Map()[route]
		for _, verb := range verbOrder {
			op := item.GetOperation(strings.ToUpper(verb))
			if op == nil {
				continue
			}
			groupName := groupFor(opts.GroupBy, route, op, suiteName)
			f, ok := byName[groupName]
			if !ok {
				f = &gherkin.Feature{Name: featureTitle(groupName)}
				if tag := tagify(groupName); tag != "" && groupName != suiteName {
					f.Tags = []string{tag}
				}
				f.Background = []gherkin.Step{{
					Keyword: gherkin.Given, Role: gherkin.RoleGiven,
					Text: "I have access to the test API",
				}}
				byName[groupName] = f
				order = append(order, groupName)
			}
			sc := buildScenario(verb, route, op, doc, opts, envVars, log)
			sc.Tags = append([]string{}, f.Tags...)
			f.Scenarios = append(f.Scenarios, sc)
		}
	}

	groups := make([]group, 0, len(order))
	for _, name := range order {
		groups = append(groups, group{name: name, feature: *byName[name]})
	}
	return groups
}

func groupFor(groupBy, route string, op *openapi3.Operation, suiteName string) string {
	switch groupBy {
	case "path":
		seg := strings.Trim(route, "/")
		if i := strings.Index(seg, "/"); i > 0 {
			seg = seg[:i]
		}
		if seg != "" && !strings.HasPrefix(seg, "{") {
			return seg
		}
	default: // tags
		if len(op.Tags) > 0 {
			return op.Tags[0]
		}
	}
	return suiteName
}

// buildScenario emits the access/request/assert skeleton for one operation.
func buildScenario(verb, route string, op *openapi3.Operation, doc *openapi3.T, opts Options, envVars map[string]string, log pslog.Logger) gherkin.Scenario {
	name := op.OperationID
	if name == "" {
		name = op.Summary
	}
	if name == "" {
		name = strings.ToUpper(verb) + " " + route
	}

	endpoint := strings.TrimPrefix(route, "/")
	var steps []gherkin.Step

	requestText := fmt.Sprintf("I make a %s request to endpoint %q", strings.ToUpper(verb), endpoint)
	if verb == "post" {
		body := requestBodyExample(op, log)
		requestText = fmt.Sprintf("I make a POST request to endpoint \"%s\" with body \"%s\"", endpoint, escapeQuoted(body))
	}
	steps = append(steps, gherkin.Step{Keyword: gherkin.When, Role: gherkin.RoleWhen, Text: requestText})

	code, resp := pickResponse(op)
	steps = append(steps, gherkin.Step{
		Keyword: gherkin.Then, Role: gherkin.RoleThen,
		Text: fmt.Sprintf("I should receive status code %d", code),
	})

	if opts.GenerateAssertions && resp != nil {
		for _, a := range exampleAssertions(resp) {
			steps = append(steps, gherkin.Step{Keyword: gherkin.And, Role: gherkin.RoleThen, Text: a})
		}
	}

	for k, v := range authEnv(firstSecurity(op, doc), doc) {
		if _, ok := envVars[k]; !ok {
			envVars[k] = v
			log.Debug("import.openapi.auth.env", "op", name, "var", k)
		}
	}

	return gherkin.Scenario{Name: name, Steps: steps}
}

// pickResponse selects the operation's primary declared response: the lowest
// 2xx code, else the lowest numeric code, else 200.
func pickResponse(op *openapi3.Operation) (int, *openapi3.Response) {
	if op.Responses == nil {
		return 200, nil
	}
	best := 0
	var bestResp *openapi3.Response
	for codeStr, ref := range op.Responses.Map() {
		var code int
		if _, err := fmt.Sscanf(codeStr, "%d", &code); err != nil {
			continue
		}
		better := best == 0 ||
			(code >= 200 && code < 300 && (best < 200 || best >= 300 || code < best)) ||
			((best < 200 || best >= 300) && code < best)
		if better {
			best = code
			if ref != nil {
				bestResp = ref.Value
			}
		}
	}
	if best == 0 {
		return 200, nil
	}
	return best, bestResp
}

// exampleAssertions derives jq-path equality steps from the response's JSON
// example, one per top-level scalar field.
func exampleAssertions(resp *openapi3.Response) []string {
	media := resp.Content.Get("application/json")
	if media == nil {
		return nil
	}
	example := media.Example
	if example == nil {
		for _, ref := range media.Examples {
			if ref != nil && ref.Value != nil && ref.Value.Value != nil {
				example = ref.Value.Value
				break
			}
		}
	}
	if example == nil && media.Schema != nil && media.Schema.Value != nil {
		example = media.Schema.Value.Example
	}
	obj, ok := example.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		val := obj[k]
		switch v := val.(type) {
		case string:
			out = append(out, fmt.Sprintf("the response JSON at \".%s\" should equal \"%s\"", k, escapeQuoted(v)))
		case float64:
			rendered := fmt.Sprintf("%v", v)
			if v == float64(int64(v)) {
				rendered = fmt.Sprintf("%d", int64(v))
			}
			out = append(out, fmt.Sprintf("the response JSON at \".%s\" should equal \"%s\"", k, rendered))
		case bool:
			out = append(out, fmt.Sprintf("the response JSON at \".%s\" should equal \"%t\"", k, v))
		}
	}
	return out
}

func requestBodyExample(op *openapi3.Operation, log pslog.Logger) string {
	if op.RequestBody == nil || op.RequestBody.Value == nil {
		return "{}"
	}
	media := op.RequestBody.Value.Content.Get("application/json")
	if media == nil {
		return "{}"
	}
	example := media.Example
	if example == nil {
		for _, ref := range media.Examples {
			if ref != nil && ref.Value != nil && ref.Value.Value != nil {
				example = ref.Value.Value
				break
			}
		}
	}
	if example == nil && media.Schema != nil && media.Schema.Value != nil {
		example = media.Schema.Value.Example
	}
	if example == nil {
		log.Debug("import.openapi.request.example.missing", "op", op.OperationID)
		return "{}"
	}
	out, err := json.Marshal(example)
	if err != nil {
		return "{}"
	}
	return string(out)
}

func firstSecurity(op *openapi3.Operation, doc *openapi3.T) openapi3.SecurityRequirement {
	if op != nil && op.Security != nil && len(*op.Security) > 0 {
		return (*op.Security)[0]
	}
	if doc != nil && doc.Security != nil && len(doc.Security) > 0 {
		return doc.Security[0]
	}
	return nil
}

// authEnv derives env placeholders from an OpenAPI security requirement so
// the generated env file names the credentials the suite will need.
func authEnv(sec openapi3.SecurityRequirement, doc *openapi3.T) map[string]string {
	env := map[string]string{}
	if sec == nil || doc == nil || doc.Components == nil || doc.Components.SecuritySchemes == nil {
		return env
	}
	for name := range sec {
		sref := doc.Components.SecuritySchemes[name]
		if sref == nil || sref.Value == nil {
			continue
		}
		s := sref.Value
		switch strings.ToLower(s.Type) {
		case "apikey":
			env[toVarName(name)] = "CHANGEME"
		case "http":
			switch strings.ToLower(s.Scheme) {
			case "bearer":
				env["bearerToken"] = "CHANGEME"
			case "basic":
				env["basicAuth"] = "CHANGEME"
			}
		case "oauth2":
			env["accessToken"] = "CHANGEME"
		}
	}
	return env
}

func renderEnv(vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString("# key: value pairs seeded into every scenario scope\n")
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %s\n", k, vars[k])
	}
	return sb.String()
}

func writeOutput(dir, name, content string) error {
	if dir == "" {
		return nil
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
}

func escapeQuoted(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func tagify(name string) string {
	re := regexp.MustCompile(`[^a-zA-Z0-9_-]+`)
	return strings.Trim(re.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

func featureTitle(name string) string {
	if name == "" {
		return name
	}
	rs := []rune(name)
	rs[0] = unicode.ToUpper(rs[0])
	return string(rs)
}

func sanitizeFileName(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "?", "_")
	s = strings.ReplaceAll(s, "*", "_")
	const maxLen = 120
	if len(s) > maxLen {
		ext := filepath.Ext(s)
		base := strings.TrimSuffix(s, ext)
		over := len(base) - (maxLen - len(ext))
		if over > 0 && len(base) > over {
			base = base[:len(base)-over]
		}
		s = base + ext
	}
	return s
}

func uniqueFileName(counts map[string]int, dir, base string) string {
	key := dir + "|" + base
	count := counts[key]
	name := sanitizeFileName(base + ".feature")
	if count > 0 {
		name = sanitizeFileName(fmt.Sprintf("%s_%d.feature", base, count+1))
	}
	counts[key] = count + 1
	return name
}

func shouldIncludePath(route string, includes []string) bool {
	if len(includes) == 0 {
		return true
	}
	for _, p := range includes {
		if p == route || strings.HasPrefix(route, p) {
			return true
		}
	}
	return false
}

func isSwagger2Data(data []byte) bool {
	lower := bytes.ToLower(data)
	return bytes.Contains(lower, []byte("swagger")) && bytes.Contains(lower, []byte("2.0"))
}

func loadOpenAPIv3(ctx context.Context, data []byte, location *url.URL, opts Options) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true
	loader.Context = ctx
	loader.ReadFromURIFunc = refReader(opts)

	if location != nil {
		return loader.LoadFromDataWithPath(data, location)
	}
	return loader.LoadFromData(data)
}

func loadSwaggerAsV3(ctx context.Context, data []byte, location *url.URL, opts Options) (*openapi3.T, error) {
	var doc2 openapi2.T
	if err := json.Unmarshal(data, &doc2); err != nil {
		if err2 := yaml.Unmarshal(data, &doc2); err2 != nil {
			return nil, fmt.Errorf("unmarshal swagger: %v / %v", err, err2)
		}
	}
	if doc2.Swagger == "" {
		return nil, fmt.Errorf("invalid swagger: missing swagger field")
	}
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true
	loader.Context = ctx
	loader.ReadFromURIFunc = refReader(opts)
	return openapi2conv.ToV3WithLoader(&doc2, loader, location)
}

func refReader(opts Options) openapi3.ReadFromURIFunc {
	client := http.DefaultClient
	if opts.Insecure || opts.AllowRemoteRefs {
		client = insecureHTTPClient()
	}
	return func(_ *openapi3.Loader, u *url.URL) ([]byte, error) {
		return fetchExternal(u, client, opts)
	}
}

func fetchExternal(u *url.URL, client *http.Client, opts Options) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}

	// file / local paths
	if u.Scheme == "" || u.Scheme == "file" {
		if !allowLocalRef(u, opts) {
			return nil, fmt.Errorf("file ref blocked: %s (use --allow-file-refs)", u.String())
		}
		return os.ReadFile(u.Path)
	}

	// http/https
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported external ref scheme: %s", u.Scheme)
	}
	if !opts.AllowRemoteRefs {
		if !sameOrigin(u, opts.Source) {
			return nil, fmt.Errorf("remote external ref blocked: %s (use --allow-remote-refs)", u.String())
		}
	}
	return fetchWithClient(u.String(), client)
}

func sameOrigin(ref *url.URL, source string) bool {
	srcURL, err := url.Parse(source)
	if err != nil || srcURL.Scheme == "" {
		return false
	}
	return srcURL.Scheme == ref.Scheme && srcURL.Host == ref.Host
}

func allowLocalRef(u *url.URL, opts Options) bool {
	if opts.AllowFileRefs {
		return true
	}
	// Only allow if the root source is a local file and the ref stays inside
	// its directory tree.
	srcURL, err := url.Parse(opts.Source)
	if err != nil || srcURL.Scheme == "http" || srcURL.Scheme == "https" {
		return false
	}
	baseDir := filepath.Clean(filepath.Dir(opts.Source))
	refPath := u.Path
	if !filepath.IsAbs(refPath) {
		refPath = filepath.Join(baseDir, refPath)
	}
	refPath = filepath.Clean(refPath)

	baseAbs, err := filepath.Abs(baseDir)
	if err != nil {
		return false
	}
	refAbs, err := filepath.Abs(refPath)
	if err != nil {
		return false
	}
	return strings.HasPrefix(refAbs, baseAbs)
}

func toVarName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "auth"
	}
	re := regexp.MustCompile(`[^a-zA-Z0-9]+`)
	name = re.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if name == "" {
		return "auth"
	}
	parts := strings.Split(name, "_")
	for i := range parts {
		if parts[i] == "" {
			continue
		}
		if i == 0 {
			parts[i] = strings.ToLower(parts[i])
		} else {
			parts[i] = featureTitle(strings.ToLower(parts[i]))
		}
	}
	return strings.Join(parts, "")
}
