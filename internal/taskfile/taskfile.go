// Package taskfile loads the declared job list of a decision from HCL.
//
//	locals {
//	  cargo_cache = { cargo-registry-cache = "/root/.cargo/registry" }
//	}
//
//	task "tidy" {
//	  command              = ["./mach test-tidy --no-progress --all"]
//	  dockerfile           = "build-x86_64-linux"
//	  max_run_time_minutes = 20
//	  cache                = local.cargo_cache
//	}
package taskfile

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"decision/internal/taskgraph"
)

var fileSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "locals"},
		{Type: "task", LabelNames: []string{"name"}},
	},
}

// hclTask is the decoded body of one task block.
type hclTask struct {
	Command           []string          `hcl:"command"`
	Env               map[string]string `hcl:"env,optional"`
	Dockerfile        string            `hcl:"dockerfile,optional"`
	Image             string            `hcl:"image,optional"`
	MaxRunTimeMinutes int               `hcl:"max_run_time_minutes,optional"`
	Scopes            []string          `hcl:"scopes,optional"`
	Cache             map[string]string `hcl:"cache,optional"`
	WithRepo          *bool             `hcl:"with_repo,optional"`
}

func functions() map[string]function.Function {
	return map[string]function.Function{
		"concat": stdlib.ConcatFunc,
		"merge":  stdlib.MergeFunc,
	}
}

// Load parses the decision file at path and returns its tasks in
// declaration order. Syntax and type errors are configuration errors.
func Load(path string) ([]taskgraph.TaskSpec, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, diagError("", diags)
	}
	return decode(file.Body)
}

// Parse is Load for in-memory source; filename only labels diagnostics.
func Parse(src []byte, filename string) ([]taskgraph.TaskSpec, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, diagError("", diags)
	}
	return decode(file.Body)
}

func decode(body hcl.Body) ([]taskgraph.TaskSpec, error) {
	content, diags := body.Content(fileSchema)
	if diags.HasErrors() {
		return nil, diagError("", diags)
	}

	ctx := &hcl.EvalContext{
		Variables: map[string]cty.Value{"local": cty.EmptyObjectVal},
		Functions: functions(),
	}

	// 1. Locals, in source order; each may refer to the ones above it.
	locals := map[string]cty.Value{}
	for _, block := range content.Blocks.OfType("locals") {
		if err := evalLocals(ctx, block, locals); err != nil {
			return nil, err
		}
	}

	// 2. Tasks.
	var specs []taskgraph.TaskSpec
	for _, block := range content.Blocks.OfType("task") {
		name := block.Labels[0]
		var t hclTask
		if diags := gohcl.DecodeBody(block.Body, ctx, &t); diags.HasErrors() {
			return nil, diagError(name, diags)
		}
		specs = append(specs, taskgraph.TaskSpec{
			Name:              name,
			Command:           t.Command,
			Env:               t.Env,
			Dockerfile:        t.Dockerfile,
			Image:             t.Image,
			MaxRunTimeMinutes: t.MaxRunTimeMinutes,
			Scopes:            taskgraph.ScopeSet(t.Scopes),
			Cache:             t.Cache,
			WithRepo:          t.WithRepo,
		})
	}
	return specs, nil
}

func evalLocals(ctx *hcl.EvalContext, block *hcl.Block, locals map[string]cty.Value) error {
	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return diagError("", diags)
	}

	ordered := make([]*hcl.Attribute, 0, len(attrs))
	for _, attr := range attrs {
		ordered = append(ordered, attr)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Range.Start.Byte < ordered[j].Range.Start.Byte
	})

	for _, attr := range ordered {
		if _, dup := locals[attr.Name]; dup {
			return &taskgraph.ConfigurationError{
				Msg: fmt.Sprintf("local %q defined more than once (%s)", attr.Name, attr.Range),
			}
		}
		val, diags := attr.Expr.Value(ctx)
		if diags.HasErrors() {
			return diagError("", diags)
		}
		locals[attr.Name] = val
		ctx.Variables["local"] = cty.ObjectVal(locals)
	}
	return nil
}

func diagError(task string, diags hcl.Diagnostics) error {
	return &taskgraph.ConfigurationError{Task: task, Msg: diags.Error()}
}
