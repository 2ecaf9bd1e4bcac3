package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const manifestSchema = `{
	"type": "object",
	"required": ["components"],
	"properties": {
		"components": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string"},
					"version": {"type": "string"}
				}
			}
		},
		"rolloutPct": {"type": "number"}
	}
}`

var errUsage = errors.New("invalid arguments")

var compiledManifestSchema = mustCompileManifestSchema()

func mustCompileManifestSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(manifestSchema))
	if err != nil {
		panic(err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("mem://manifest.json", doc); err != nil {
		panic(err)
	}
	return compiler.MustCompile("mem://manifest.json")
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	req, err := parseArgs(args)
	if err == nil {
		err = bumpManifest(req)
	}
	if err != nil {
		fmt.Fprintf(stderr, "usage: %s [path-to%cmanifest-file.json] [componentName] [version] [pct]\n", filepath.Base(os.Args[0]), filepath.Separator)
		if !errors.Is(err, errUsage) {
			fmt.Fprintln(stderr, err)
		}
		return 1
	}
	return 0
}

type bumpRequest struct {
	path          string
	componentName string
	version       string
	rolloutPct    *json.Number
}

func parseArgs(args []string) (bumpRequest, error) {
	if len(args) < 3 || len(args) > 4 {
		return bumpRequest{}, errUsage
	}
	req := bumpRequest{path: args[0], componentName: args[1], version: args[2]}
	if !strings.HasSuffix(req.path, ".json") {
		return bumpRequest{}, errUsage
	}
	if strings.TrimSpace(req.componentName) == "" {
		return bumpRequest{}, errUsage
	}
	if !strings.HasPrefix(req.version, "2") {
		return bumpRequest{}, errUsage
	}
	if len(args) == 4 {
		if _, err := strconv.ParseFloat(args[3], 64); err != nil {
			return bumpRequest{}, fmt.Errorf("%w: pct %q is not a number", errUsage, args[3])
		}
		pct := json.Number(args[3])
		req.rolloutPct = &pct
	}
	return req, nil
}

// bumpManifest sets the version of the named component and, when given, the
// manifest rollout percentage. Other fields are kept as they are.
func bumpManifest(req bumpRequest) error {
	raw, err := os.ReadFile(req.path)
	if err != nil {
		return err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	if err := compiledManifestSchema.Validate(instance); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var manifest map[string]any
	if err := decoder.Decode(&manifest); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	components, _ := manifest["components"].([]any)
	for _, item := range components {
		component, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if name, _ := component["name"].(string); name == req.componentName {
			component["version"] = req.version
		}
	}
	if req.rolloutPct != nil {
		manifest["rolloutPct"] = *req.rolloutPct
	}

	out, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	info, err := os.Stat(req.path)
	if err != nil {
		return err
	}
	return os.WriteFile(req.path, out, info.Mode().Perm())
}
