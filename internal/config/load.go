package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/conveyorci/conveyor/internal/env"
)

// rawHeader captures the fields needed before the full template render.
type rawHeader struct {
	Project  string               `yaml:"project"`
	EnvFiles []string             `yaml:"envFiles,omitempty"`
	Params   map[string]ParamSpec `yaml:"params,omitempty"`
}

// LoadWorkflow loads, templates, parses and validates conveyor.yaml.
// Parameters are resolved against the declared specs before rendering so that
// stage definitions can reference {{ .Params.x }}.
func LoadWorkflow(path string, opts LoadOptions) (*WorkflowConfig, TemplateContext, error) {
	var zeroCtx TemplateContext

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, zeroCtx, fmt.Errorf("resolve config path %q: %w", path, err)
	}

	rawBytes, err := os.ReadFile(absPath)
	if err != nil {
		return nil, zeroCtx, fmt.Errorf("read config %q: %w", absPath, err)
	}

	var header rawHeader
	if err := yaml.Unmarshal(rawBytes, &header); err != nil {
		return nil, zeroCtx, fmt.Errorf("parse top-level config fields: %w", err)
	}

	params, err := ResolveParams(header.Params, opts.Params)
	if err != nil {
		return nil, zeroCtx, err
	}

	baseDir := filepath.Dir(absPath)
	osVars := env.FromOS()

	envFileVars, err := env.LoadEnvFiles(baseDir, header.EnvFiles)
	if err != nil {
		return nil, zeroCtx, err
	}

	varFileVars := make(env.Vars)
	for _, vf := range opts.VarFiles {
		if strings.TrimSpace(vf) == "" {
			continue
		}
		vp, err := env.LoadVarFile(vf)
		if err != nil {
			return nil, zeroCtx, fmt.Errorf("load var-file %q: %w", vf, err)
		}
		varFileVars = env.Merge(varFileVars, vp)
	}

	ctx := TemplateContext{
		Project:     header.Project,
		ProjectRoot: baseDir,
		Params:      params,
		UserVars:    opts.UserVars,
		EnvMap:      env.Merge(osVars, envFileVars, varFileVars, opts.UserVars),
		Now:         time.Now().UTC(),
	}

	rendered, err := executeTemplate(rawBytes, ctx)
	if err != nil {
		return nil, zeroCtx, err
	}

	var cfg WorkflowConfig
	if err := yaml.Unmarshal(rendered, &cfg); err != nil {
		return nil, zeroCtx, fmt.Errorf("parse rendered conveyor.yaml: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, zeroCtx, err
	}

	return &cfg, ctx, nil
}

// ResolveParams merges overrides into the declared parameter specs and
// validates every value against its spec.
func ResolveParams(specs map[string]ParamSpec, overrides map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(specs))
	for name, spec := range specs {
		out[name] = spec.Default
	}
	for name, value := range overrides {
		spec, ok := specs[name]
		if !ok {
			return nil, fmt.Errorf("unknown parameter %q (declared: %s)", name, strings.Join(paramNames(specs), ", "))
		}
		if spec.Type == "choice" && !containsString(spec.Choices, value) {
			return nil, fmt.Errorf("parameter %q: value %q is not one of %s", name, value, strings.Join(spec.Choices, ", "))
		}
		out[name] = value
	}
	for name, spec := range specs {
		if spec.Type == "choice" && out[name] != "" && !containsString(spec.Choices, out[name]) {
			return nil, fmt.Errorf("parameter %q: default %q is not one of %s", name, out[name], strings.Join(spec.Choices, ", "))
		}
	}
	return out, nil
}

// Validate checks structural invariants the YAML schema cannot express.
func Validate(cfg *WorkflowConfig) error {
	if len(cfg.Stages) == 0 {
		return fmt.Errorf("workflow declares no stages")
	}
	seen := make(map[string]struct{}, len(cfg.Stages))
	for i, stage := range cfg.Stages {
		name := strings.TrimSpace(stage.Name)
		if name == "" {
			return fmt.Errorf("stage %d has no name", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate stage name %q", name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(stage.Run) == "" {
			return fmt.Errorf("stage %q has an empty run command", name)
		}
		if stage.Timeout != "" {
			if _, err := time.ParseDuration(stage.Timeout); err != nil {
				return fmt.Errorf("stage %q: invalid timeout %q: %w", name, stage.Timeout, err)
			}
		}
	}
	for _, backend := range cfg.Credentials.Backends {
		switch backend.Type {
		case "file", "aws.secretsmanager", "keyring":
		default:
			return fmt.Errorf("credential backend %q: unknown type %q", backend.Name, backend.Type)
		}
	}
	if inv := cfg.Inventory; inv != nil {
		switch inv.Source {
		case "ec2", "static":
		default:
			return fmt.Errorf("inventory source %q is not supported (ec2, static)", inv.Source)
		}
		switch inv.AddressFrom {
		case "", "public", "private":
		default:
			return fmt.Errorf("inventory addressFrom %q is not supported (public, private)", inv.AddressFrom)
		}
	}
	if trg := cfg.Trigger; trg != nil && trg.DedupWindow != "" {
		if _, err := time.ParseDuration(trg.DedupWindow); err != nil {
			return fmt.Errorf("trigger dedupWindow %q: %w", trg.DedupWindow, err)
		}
	}
	return nil
}

// EvaluateWhen renders a stage condition against the template context and
// interprets the result as a boolean. A nil expression means the stage has
// no guard and always runs; a declared guard that renders empty is false,
// so {{ if ... }}true{{ end }} skips on the non-matching branch even when
// the workflow file's own render pass already collapsed it.
func EvaluateWhen(expr *string, ctx TemplateContext) (bool, error) {
	if expr == nil {
		return true, nil
	}
	rendered, err := RenderTemplate("stage-when", []byte(*expr), ctx)
	if err != nil {
		return false, err
	}
	s := strings.ToLower(strings.TrimSpace(string(rendered)))
	if s == "" || s == "false" || s == "0" || s == "no" {
		return false, nil
	}
	return true, nil
}

// executeTemplate renders the given YAML content using the workflow template context.
func executeTemplate(raw []byte, ctx TemplateContext) ([]byte, error) {
	funcs := buildFuncMap(ctx)

	tmpl, err := template.New("conveyor.yaml").Funcs(funcs).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return nil, fmt.Errorf("execute template: %w", err)
	}

	return buf.Bytes(), nil
}

// RenderTemplate renders arbitrary text using the same template context and helpers.
func RenderTemplate(name string, raw []byte, ctx TemplateContext) ([]byte, error) {
	funcs := buildFuncMap(ctx)

	tmpl, err := template.New(name).Funcs(funcs).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse template %q: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return nil, fmt.Errorf("execute template %q: %w", name, err)
	}
	return buf.Bytes(), nil
}

// buildFuncMap constructs the template functions available in conveyor.yaml and when expressions.
func buildFuncMap(ctx TemplateContext) template.FuncMap {
	return template.FuncMap{
		"default":    funcDef,
		"toLower":    strings.ToLower,
		"slug":       funcSlug,
		"envOr":      funcEnvOr(ctx.EnvMap),
		"param":      funcParam(ctx.Params),
		"ternary":    funcTernary,
		"now":        func() time.Time { return ctx.Now },
		"join":       strings.Join,
		"trimPrefix": func(prefix, s string) string { return strings.TrimPrefix(s, prefix) },
	}
}

// funcDef returns def when value is empty or whitespace, otherwise value.
func funcDef(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}

// funcSlug normalizes a value into a lower-case dash-separated slug.
func funcSlug(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.ReplaceAll(v, " ", "-")
	v = strings.ReplaceAll(v, "_", "-")
	return v
}

// funcEnvOr returns a function that looks up a key in envMap and falls back to def.
func funcEnvOr(envMap env.Vars) func(key, def string) string {
	return func(key, def string) string {
		if v, ok := envMap[key]; ok && v != "" {
			return v
		}
		return def
	}
}

// funcParam returns a function that looks up a resolved parameter value.
func funcParam(params map[string]string) func(name string) string {
	return func(name string) string { return params[name] }
}

// funcTernary picks a or b based on the condition.
func funcTernary(cond bool, a, b string) string {
	if cond {
		return a
	}
	return b
}

func paramNames(specs map[string]ParamSpec) []string {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
