package fsm

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Definitions are written in HCL:
//
//	machine "greeter" {
//	  initial_state = "idle"
//
//	  state "idle" {
//	    func   = "greet"
//	    params = { line = "hello" }
//	  }
//	}
type hclFile struct {
	Machines []*hclMachine `hcl:"machine,block"`
}

type hclMachine struct {
	Name         string      `hcl:"name,label"`
	InitialState string      `hcl:"initial_state"`
	States       []*hclState `hcl:"state,block"`
}

type hclState struct {
	Name   string    `hcl:"name,label"`
	Func   string    `hcl:"func"`
	Params cty.Value `hcl:"params,optional"`
}

// LoadDefinitions reads every machine from an .hcl file, or from all .hcl
// files directly under a directory.
func LoadDefinitions(path string) (map[string]Definition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	files := []string{path}
	if info.IsDir() {
		files, err = filepath.Glob(filepath.Join(path, "*.hcl"))
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", path, err)
		}
		sort.Strings(files)
	}

	parser := hclparse.NewParser()
	defs := make(map[string]Definition)
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parse %s: %w", file, diags)
		}
		if err := decodeMachines(file, hclFile.Body, defs); err != nil {
			return nil, err
		}
	}
	return defs, nil
}

// ParseDefinitions reads machines from HCL source. filename labels
// diagnostics.
func ParseDefinitions(filename string, src []byte) (map[string]Definition, error) {
	hclFile, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %s: %w", filename, diags)
	}
	defs := make(map[string]Definition)
	if err := decodeMachines(filename, hclFile.Body, defs); err != nil {
		return nil, err
	}
	return defs, nil
}

func decodeMachines(filename string, body hcl.Body, defs map[string]Definition) error {
	var parsed hclFile
	if diags := gohcl.DecodeBody(body, nil, &parsed); diags.HasErrors() {
		return fmt.Errorf("decode %s: %w", filename, diags)
	}
	for _, machine := range parsed.Machines {
		name := strings.TrimSpace(machine.Name)
		if _, dup := defs[name]; dup {
			return fmt.Errorf("%s: machine %q defined twice", filename, name)
		}
		def := Definition{
			Name:         name,
			InitialState: machine.InitialState,
			States:       make(map[string]State, len(machine.States)),
		}
		for _, st := range machine.States {
			if _, dup := def.States[st.Name]; dup {
				return fmt.Errorf("%s: machine %q: state %q defined twice", filename, name, st.Name)
			}
			params, err := ctyToParams(st.Params)
			if err != nil {
				return fmt.Errorf("%s: machine %q: state %q params: %w", filename, name, st.Name, err)
			}
			def.States[st.Name] = State{Func: st.Func, Params: params}
		}
		if err := def.Validate(); err != nil {
			return fmt.Errorf("%s: %w", filename, err)
		}
		defs[name] = def
	}
	return nil
}

func ctyToParams(v cty.Value) (map[string]any, error) {
	if v.IsNull() || !v.IsKnown() {
		return map[string]any{}, nil
	}
	native, err := ctyToNative(v)
	if err != nil {
		return nil, err
	}
	params, ok := native.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("params must be an object, got %s", v.Type().FriendlyName())
	}
	return params, nil
}

func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Number:
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, err
		}
		return f, nil
	case ty == cty.Bool:
		return v.True(), nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			native, err := ctyToNative(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, native)
		}
		return out, nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any)
		for it := v.ElementIterator(); it.Next(); {
			key, elem := it.Element()
			native, err := ctyToNative(elem)
			if err != nil {
				return nil, fmt.Errorf("in %q: %w", key.AsString(), err)
			}
			out[key.AsString()] = native
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type %s", ty.FriendlyName())
	}
}
