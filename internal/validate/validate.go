// Package validate statically checks pipeline documents against the
// operation catalog's field contracts before any execution begins.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rasterflow-labs/rasterflow-go/internal/domain"
)

var aspectForm = regexp.MustCompile(`^([0-9]+):([0-9]+)$`)

// Pipeline checks document shape, input kinds, and every step's field
// contract, including forward-only symbol references. The returned error is
// a *ValidationError carrying the full ordered issue list, or nil.
func Pipeline(p domain.Pipeline) error {
	issues := &ValidationError{}

	if p.Inputs == nil {
		issues.Add("inputs must be an object")
	}
	if p.Steps == nil {
		issues.Add("steps must be a list")
	}
	if p.Inputs == nil || p.Steps == nil {
		return issues.OrNil()
	}

	names := make([]string, 0, len(p.Inputs))
	for name := range p.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			issues.Add("input name must not be empty")
			continue
		}
		checkInput(issues, name, p.Inputs[name])
	}

	visible := make(map[string]struct{}, len(p.Inputs)+len(p.Steps))
	for name := range p.Inputs {
		visible[name] = struct{}{}
	}

	for i, step := range p.Steps {
		checkStep(issues, i, step, visible)
		if out := strings.TrimSpace(step.Out); out != "" {
			if _, exists := visible[out]; exists {
				issues.Add(fmt.Sprintf("step[%d] out %q collides with an existing image name", i, out))
			} else {
				visible[out] = struct{}{}
			}
		}
	}

	return issues.OrNil()
}

// Profile checks a named pipeline document.
func Profile(p domain.Profile) error {
	issues := &ValidationError{}
	if strings.TrimSpace(p.Name) == "" {
		issues.Add("profile name is required")
	}
	if err := Pipeline(p.Pipeline); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			issues.Issues = append(issues.Issues, verr.Issues...)
		} else {
			issues.Add(err.Error())
		}
	}
	return issues.OrNil()
}

func checkInput(issues *ValidationError, name string, spec domain.InputSpec) {
	switch spec.Kind() {
	case domain.InputURL:
		url := strings.TrimSpace(spec.URL)
		if !domain.IsHTTPURL(url) {
			issues.Add(fmt.Sprintf("input %q url must be http(s)", name))
		}
	case domain.InputObjectStore:
		if strings.TrimSpace(spec.Bucket) == "" {
			issues.Add(fmt.Sprintf("input %q bucket is required", name))
		}
		if strings.TrimSpace(spec.Key) == "" {
			issues.Add(fmt.Sprintf("input %q key is required", name))
		}
	case domain.InputInline:
		if strings.TrimSpace(spec.Data) == "" {
			issues.Add(fmt.Sprintf("input %q data is required", name))
		}
	case domain.InputMultipart:
		if strings.TrimSpace(spec.Field) == "" {
			issues.Add(fmt.Sprintf("input %q field is required", name))
		}
	default:
		issues.Add(fmt.Sprintf("input %q has unrecognized type %q", name, spec.Type))
	}
}

func checkStep(issues *ValidationError, i int, step domain.Step, visible map[string]struct{}) {
	op := strings.TrimSpace(step.Op)
	if op == "" {
		issues.Add(fmt.Sprintf("step[%d] op is required", i))
		return
	}
	if !domain.KnownOp(op) {
		issues.Add(fmt.Sprintf("step[%d] op %q is not recognized", i, op))
		return
	}

	for _, ref := range step.SourceFields() {
		field, symbol := ref[0], ref[1]
		if strings.TrimSpace(symbol) == "" {
			issues.Add(fmt.Sprintf("step[%d] %s is required", i, field))
			continue
		}
		if _, ok := visible[symbol]; !ok {
			issues.Add(fmt.Sprintf("step[%d] %s references unknown image %q", i, field, symbol))
		}
	}

	switch op {
	case domain.OpMaskAlpha, domain.OpMeasure, domain.OpTrimRepage, domain.OpFlatten:
		// Source checks above cover the required fields.
	case domain.OpPadToAspect:
		if strings.TrimSpace(step.Aspect) == "" {
			issues.Add(fmt.Sprintf("step[%d] aspect is required", i))
		}
		if step.PadPct < 0 || step.PadPct >= 1 {
			issues.Add(fmt.Sprintf("step[%d] padPct must be in [0, 1)", i))
		}
	case domain.OpResize:
		mode := strings.TrimSpace(step.Mode)
		if mode == "" {
			issues.Add(fmt.Sprintf("step[%d] mode is required", i))
		} else if !domain.KnownResizeMode(mode) {
			issues.Add(fmt.Sprintf("step[%d] mode %q is not recognized", i, mode))
		} else if mode == domain.ResizeFit {
			if strings.TrimSpace(step.Geometry) == "" {
				issues.Add(fmt.Sprintf("step[%d] geometry is required for fit mode", i))
			}
		} else if step.Value <= 0 {
			issues.Add(fmt.Sprintf("step[%d] value must be positive for %s mode", i, mode))
		}
	case domain.OpColorspace:
		space := strings.TrimSpace(step.Space)
		if space == "" {
			issues.Add(fmt.Sprintf("step[%d] space is required", i))
		} else if !domain.KnownColorspace(space) {
			issues.Add(fmt.Sprintf("step[%d] space %q is not recognized", i, space))
		}
	case domain.OpFormat:
		format := strings.TrimSpace(step.Format)
		if format == "" {
			issues.Add(fmt.Sprintf("step[%d] format is required", i))
		} else if !domain.KnownFormat(format) {
			issues.Add(fmt.Sprintf("step[%d] format %q is not recognized", i, format))
		}
		checkQuality(issues, i, step.Quality)
	case domain.OpComposite:
		if mode := strings.TrimSpace(step.Mode); mode != "" && !domain.KnownBlendMode(mode) {
			issues.Add(fmt.Sprintf("step[%d] mode %q is not recognized", i, mode))
		}
	case domain.OpExport:
		if as := strings.TrimSpace(step.As); as != "" && !domain.KnownFormat(as) {
			issues.Add(fmt.Sprintf("step[%d] as %q is not recognized", i, as))
		}
		checkQuality(issues, i, step.Quality)
		if strings.TrimSpace(step.Out) != "" {
			issues.Add(fmt.Sprintf("step[%d] export must not declare out", i))
		}
	}

	if op == domain.OpMeasure && strings.TrimSpace(step.Out) != "" {
		issues.Add(fmt.Sprintf("step[%d] measure must not declare out", i))
	}

	if anchor := strings.TrimSpace(step.Anchor); anchor != "" && !domain.KnownAnchor(anchor) {
		issues.Add(fmt.Sprintf("step[%d] anchor %q is not recognized", i, anchor))
	}

	if aspect := strings.TrimSpace(step.Aspect); aspect != "" {
		if !validAspect(aspect) {
			issues.Add(fmt.Sprintf("step[%d] aspect %q must be integer:integer", i, aspect))
		}
	}
}

func checkQuality(issues *ValidationError, i int, quality int) {
	if quality != 0 && (quality < 1 || quality > 100) {
		issues.Add(fmt.Sprintf("step[%d] quality must be in [1, 100]", i))
	}
}

func validAspect(aspect string) bool {
	m := aspectForm.FindStringSubmatch(aspect)
	if m == nil {
		return false
	}
	return m[1] != "0" && m[2] != "0" && !strings.HasPrefix(m[1], "0") && !strings.HasPrefix(m[2], "0")
}
