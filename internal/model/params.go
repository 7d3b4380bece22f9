package model

import (
	"fmt"
	"maps"
	"slices"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/featflow/internal/fsf"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// paramsFile mirrors model_params.hcl. Flags that default to on are pointers
// so that absence can be told apart from an explicit false.
type paramsFile struct {
	Smoothing    int        `hcl:"smoothing,optional"`
	UseInplane   int        `hcl:"use_inplane,optional"`
	Nonlinear    bool       `hcl:"nonlinear,optional"`
	HPF          *bool      `hcl:"hpf,optional"`
	Whiten       *bool      `hcl:"whiten,optional"`
	Confound     *bool      `hcl:"confound,optional"`
	DoReg        bool       `hcl:"doreg,optional"`
	AnatImg      string     `hcl:"anatimg,optional"`
	SpaceTag     string     `hcl:"spacetag,optional"`
	UseBrainMask bool       `hcl:"usebrainmask,optional"`
	SpecificRuns *cty.Value `hcl:"specificruns,optional"`
	Engine       *cty.Value `hcl:"engine,optional"`
}

// Params are the resolved level-1 model parameters.
type Params struct {
	Smoothing    int
	UseInplane   int
	Nonlinear    bool
	HPF          bool
	Whiten       bool
	Confound     bool
	DoReg        bool
	AnatImg      string
	SpaceTag     string
	UseBrainMask bool
}

// DefaultParams are used when model_params.hcl is absent.
func DefaultParams() Params {
	return Params{HPF: true, Whiten: true, Confound: true}
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// loadParams decodes model_params.hcl. The returned cty values are null when
// the attribute is absent.
func loadParams(path string) (Params, cty.Value, []fsf.Setting, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return Params{}, cty.NilVal, nil, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}

	var raw paramsFile
	diags = gohcl.DecodeBody(file.Body, nil, &raw)
	if diags.HasErrors() {
		return Params{}, cty.NilVal, nil, fmt.Errorf("failed to decode HCL file %s: %w", path, diags)
	}

	def := DefaultParams()
	p := Params{
		Smoothing:    raw.Smoothing,
		UseInplane:   raw.UseInplane,
		Nonlinear:    raw.Nonlinear,
		HPF:          boolOr(raw.HPF, def.HPF),
		Whiten:       boolOr(raw.Whiten, def.Whiten),
		Confound:     boolOr(raw.Confound, def.Confound),
		DoReg:        raw.DoReg,
		AnatImg:      raw.AnatImg,
		SpaceTag:     raw.SpaceTag,
		UseBrainMask: raw.UseBrainMask,
	}

	specific := cty.NullVal(cty.DynamicPseudoType)
	if raw.SpecificRuns != nil {
		specific = *raw.SpecificRuns
	}

	var engine []fsf.Setting
	if raw.Engine != nil && !raw.Engine.IsNull() {
		var err error
		engine, err = engineSettings(*raw.Engine)
		if err != nil {
			return Params{}, cty.NilVal, nil, fmt.Errorf("%s: engine: %w", path, err)
		}
	}
	return p, specific, engine, nil
}

// engineSettings flattens the engine object into settings sorted by key.
// Values are rendered verbatim; numbers and bools are converted to strings.
func engineSettings(v cty.Value) ([]fsf.Setting, error) {
	ty := v.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, fmt.Errorf("expected an object of settings, got %s", ty.FriendlyName())
	}
	values := make(map[string]string)
	it := v.ElementIterator()
	for it.Next() {
		key, elem := it.Element()
		s, err := convert.Convert(elem, cty.String)
		if err != nil {
			return nil, fmt.Errorf("setting %q: %w", key.AsString(), err)
		}
		if s.IsNull() {
			return nil, fmt.Errorf("setting %q must not be null", key.AsString())
		}
		values[key.AsString()] = s.AsString()
	}
	settings := make([]fsf.Setting, 0, len(values))
	for _, k := range slices.Sorted(maps.Keys(values)) {
		settings = append(settings, fsf.Setting{Key: k, Value: values[k]})
	}
	return settings, nil
}
