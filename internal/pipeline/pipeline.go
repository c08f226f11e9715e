// Package pipeline loads a graph definition from an HCL file and builds the
// corresponding executable graph. A pipeline file declares node blocks with
// static config attributes and edge blocks wiring "name.port" addresses.
package pipeline

import (
	"context"
	"fmt"
	"regexp"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/byteflow/internal/ctxlog"
	"github.com/vk/byteflow/internal/dag"
	"github.com/vk/byteflow/internal/nodeid"
	"github.com/vk/byteflow/internal/registry"
)

// File is the decoded form of one pipeline definition.
type File struct {
	Nodes []*NodeBlock `hcl:"node,block"`
	Edges []*EdgeBlock `hcl:"edge,block"`
}

// NodeBlock declares one node: the operation to instantiate, a file-local
// name, and an optional config block of static attributes.
type NodeBlock struct {
	Operation string       `hcl:"operation,label"`
	Name      string       `hcl:"name,label"`
	Config    *ConfigBlock `hcl:"config,block"`
}

// ConfigBlock carries the raw config attributes for later evaluation.
type ConfigBlock struct {
	Body hcl.Body `hcl:",remain"`
}

// EdgeBlock declares one connection between "name.port" addresses.
type EdgeBlock struct {
	From string `hcl:"from"`
	To   string `hcl:"to"`
}

// Load parses and decodes a pipeline file.
func Load(ctx context.Context, path string) (*File, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Decoding pipeline file.", "path", path)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse pipeline file %s: %s", path, diags.Error())
	}

	var f File
	diags = gohcl.DecodeBody(file.Body, nil, &f)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode pipeline file %s: %s", path, diags.Error())
	}

	logger.Debug("Decoded pipeline file.", "path", path,
		"nodes_found", len(f.Nodes), "edges_found", len(f.Edges))
	return &f, nil
}

// portAddrRegex parses addresses like "encode.data".
var portAddrRegex = regexp.MustCompile(`^([a-zA-Z_][a-zA-Z0-9_-]*)\.([a-zA-Z_][a-zA-Z0-9_]*)$`)

type portAddress struct {
	Node string
	Port string
}

// parsePortAddress splits a raw "name.port" address.
func parsePortAddress(addr string) (*portAddress, error) {
	matches := portAddrRegex.FindStringSubmatch(addr)
	if matches == nil {
		return nil, fmt.Errorf("invalid port address format: %q (want \"name.port\")", addr)
	}
	return &portAddress{Node: matches[1], Port: matches[2]}, nil
}

// configValues evaluates the static attributes of a config block. Pipeline
// files carry literals only; expressions referencing other objects are
// rejected here rather than silently evaluating to unknown values.
func configValues(block *ConfigBlock) (map[string]cty.Value, error) {
	if block == nil {
		return nil, nil
	}
	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("reading config attributes: %s", diags.Error())
	}
	out := make(map[string]cty.Value, len(attrs))
	for name, attr := range attrs {
		v, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("evaluating config attribute %q: %s", name, diags.Error())
		}
		out[name] = v
	}
	return out, nil
}

// Build instantiates the declared nodes and edges into a fresh graph backed
// by the given catalog. It returns the graph together with the mapping from
// file-local node names to graph identifiers.
func Build(ctx context.Context, reg *registry.Registry, f *File) (*dag.Graph, map[string]nodeid.ID, error) {
	logger := ctxlog.FromContext(ctx)
	g := dag.New(reg)
	names := make(map[string]nodeid.ID, len(f.Nodes))

	for _, nb := range f.Nodes {
		if nb.Name == "" {
			return nil, nil, fmt.Errorf("node of operation %q has an empty name", nb.Operation)
		}
		if _, dup := names[nb.Name]; dup {
			return nil, nil, fmt.Errorf("duplicate node name %q", nb.Name)
		}
		cfg, err := configValues(nb.Config)
		if err != nil {
			return nil, nil, fmt.Errorf("node %q: %w", nb.Name, err)
		}
		id, err := g.AddNode(nb.Operation, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("node %q: %w", nb.Name, err)
		}
		names[nb.Name] = id
		logger.Debug("Added pipeline node.", "name", nb.Name, "operation", nb.Operation, "id", id)
	}

	for _, eb := range f.Edges {
		from, err := parsePortAddress(eb.From)
		if err != nil {
			return nil, nil, err
		}
		to, err := parsePortAddress(eb.To)
		if err != nil {
			return nil, nil, err
		}
		srcID, ok := names[from.Node]
		if !ok {
			return nil, nil, fmt.Errorf("edge references undeclared node %q", from.Node)
		}
		dstID, ok := names[to.Node]
		if !ok {
			return nil, nil, fmt.Errorf("edge references undeclared node %q", to.Node)
		}
		if err := g.Connect(srcID, from.Port, dstID, to.Port); err != nil {
			return nil, nil, fmt.Errorf("edge %q -> %q: %w", eb.From, eb.To, err)
		}
	}
	return g, names, nil
}

// LoadAndBuild is the convenience path used by the runner: parse a file and
// build its graph in one call.
func LoadAndBuild(ctx context.Context, reg *registry.Registry, path string) (*dag.Graph, map[string]nodeid.ID, error) {
	f, err := Load(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return Build(ctx, reg, f)
}
