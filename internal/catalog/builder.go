// Package catalog maps pipeline steps to raster engine invocation
// descriptors. Builders are pure: they describe what the engine should be
// asked to do and never touch the filesystem or spawn anything.
package catalog

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rasterflow-labs/rasterflow-go/internal/domain"
	"github.com/rasterflow-labs/rasterflow-go/internal/expr"
)

// Invocation describes one raster engine call: ordered input artifact paths
// followed by ordered argument tokens. OutputFormat, when set, selects the
// output encoding. Measurement marks a probe-only step that produces no
// output image.
type Invocation struct {
	Inputs       []string
	Args         []string
	OutputFormat string
	Measurement  bool
}

const (
	defaultCompress   = "Zip"
	defaultBackground = "white"
	defaultAnchor     = "center"
	defaultBlendMode  = "over"
)

// Build constructs the invocation for a step. Symbols maps image names to
// artifact paths. Vars feeds the expression engine for data-dependent
// geometry.
func Build(step domain.Step, symbols map[string]string, vars map[string]any) (Invocation, error) {
	switch step.Op {
	case domain.OpMaskAlpha:
		return buildMaskAlpha(step, symbols)
	case domain.OpMeasure:
		src, err := resolve(symbols, "src", step.Src)
		if err != nil {
			return Invocation{}, err
		}
		return Invocation{Inputs: []string{src}, Measurement: true}, nil
	case domain.OpTrimRepage:
		src, err := resolve(symbols, "src", step.Src)
		if err != nil {
			return Invocation{}, err
		}
		return Invocation{Inputs: []string{src}, Args: []string{"-trim", "+repage"}}, nil
	case domain.OpPadToAspect:
		return buildPadToAspect(step, symbols, vars)
	case domain.OpFlatten:
		src, err := resolve(symbols, "src", step.Src)
		if err != nil {
			return Invocation{}, err
		}
		return Invocation{
			Inputs: []string{src},
			Args:   []string{"-background", background(step), "-flatten"},
		}, nil
	case domain.OpResize:
		return buildResize(step, symbols)
	case domain.OpColorspace:
		src, err := resolve(symbols, "src", step.Src)
		if err != nil {
			return Invocation{}, err
		}
		return Invocation{
			Inputs: []string{src},
			Args:   []string{"-colorspace", step.Space},
		}, nil
	case domain.OpFormat:
		return buildFormat(step, symbols)
	case domain.OpComposite:
		return buildComposite(step, symbols)
	default:
		return Invocation{}, &domain.UnknownOperationError{Op: step.Op}
	}
}

func resolve(symbols map[string]string, field, name string) (string, error) {
	path, ok := symbols[name]
	if !ok {
		return "", &domain.ReferenceError{Field: field, Symbol: name}
	}
	return path, nil
}

func buildMaskAlpha(step domain.Step, symbols map[string]string) (Invocation, error) {
	src, err := resolve(symbols, "src", step.Src)
	if err != nil {
		return Invocation{}, err
	}
	mask, err := resolve(symbols, "mask", step.Mask)
	if err != nil {
		return Invocation{}, err
	}
	compress := strings.TrimSpace(step.Compress)
	if compress == "" {
		compress = defaultCompress
	}
	return Invocation{
		Inputs: []string{src, mask},
		Args: []string{
			"-alpha", "off",
			"-compose", "CopyOpacity",
			"-composite",
			"-compress", compress,
		},
	}, nil
}

func buildPadToAspect(step domain.Step, symbols map[string]string, vars map[string]any) (Invocation, error) {
	src, err := resolve(symbols, "src", step.Src)
	if err != nil {
		return Invocation{}, err
	}
	ratio, err := parseAspect(step.Aspect)
	if err != nil {
		return Invocation{}, err
	}
	padFactor := 1 / (1 - step.PadPct)

	extent, err := padExtent(ratio, padFactor, vars)
	if err != nil {
		return Invocation{}, err
	}
	return Invocation{
		Inputs: []string{src},
		Args: []string{
			"-gravity", gravity(step.Anchor),
			"-background", background(step),
			"-extent", extent,
		},
	}, nil
}

// padExtent computes the WxH extent satisfying the requested ratio. When the
// source dimensions are already bound (a prior measure ran) the result folds
// to concrete pixels; otherwise both axes defer to engine-side fx formulas.
func padExtent(ratio, padFactor float64, vars map[string]any) (string, error) {
	bindings := expr.NumericBindings(vars)
	factor := formatCoeff(padFactor)

	padW, err := expr.Evaluate("w*"+factor, bindings)
	if err != nil {
		return "", err
	}
	padH, err := expr.Evaluate("h*"+factor, bindings)
	if err != nil {
		return "", err
	}

	if !padW.Deferred && !padH.Deferred {
		bindings["padW"] = float64(padW.Value)
		bindings["padH"] = float64(padH.Value)
		targetW, err := expr.Evaluate(fmt.Sprintf("max(padW,padH*%s)", formatCoeff(ratio)), bindings)
		if err != nil {
			return "", err
		}
		targetH, err := expr.Evaluate(fmt.Sprintf("max(padH,padW*%s)", formatCoeff(1/ratio)), bindings)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%dx%d", targetW.Value, targetH.Value), nil
	}

	wide, err := expr.Evaluate(fmt.Sprintf("max(w*%s,h*%s*%s)", factor, factor, formatCoeff(ratio)), nil)
	if err != nil {
		return "", err
	}
	tall, err := expr.Evaluate(fmt.Sprintf("max(h*%s,w*%s*%s)", factor, factor, formatCoeff(1/ratio)), nil)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%%[fx:%s]x%%[fx:%s]", wide.Formula, tall.Formula), nil
}

func buildResize(step domain.Step, symbols map[string]string) (Invocation, error) {
	src, err := resolve(symbols, "src", step.Src)
	if err != nil {
		return Invocation{}, err
	}
	var geometry string
	switch step.Mode {
	case domain.ResizeWidth:
		geometry = strconv.Itoa(int(math.Round(step.Value)))
	case domain.ResizeHeight:
		geometry = "x" + strconv.Itoa(int(math.Round(step.Value)))
	case domain.ResizePercent:
		geometry = formatCoeff(step.Value) + "%"
	case domain.ResizeFit:
		geometry = step.Geometry
	default:
		return Invocation{}, fmt.Errorf("resize mode %q is not recognized", step.Mode)
	}

	var args []string
	if filter := strings.TrimSpace(step.Filter); filter != "" {
		args = append(args, "-filter", filter)
	}
	args = append(args, "-resize", geometry)
	return Invocation{Inputs: []string{src}, Args: args}, nil
}

func buildFormat(step domain.Step, symbols map[string]string) (Invocation, error) {
	src, err := resolve(symbols, "src", step.Src)
	if err != nil {
		return Invocation{}, err
	}
	var args []string
	if step.Quality > 0 {
		args = append(args, "-quality", strconv.Itoa(step.Quality))
	}
	if compress := strings.TrimSpace(step.Compress); compress != "" {
		args = append(args, "-compress", compress)
	}
	if step.Density > 0 {
		args = append(args, "-density", strconv.Itoa(step.Density))
	}
	return Invocation{
		Inputs:       []string{src},
		Args:         args,
		OutputFormat: strings.ToLower(step.Format),
	}, nil
}

func buildComposite(step domain.Step, symbols map[string]string) (Invocation, error) {
	base, err := resolve(symbols, "base", step.Base)
	if err != nil {
		return Invocation{}, err
	}
	overlay, err := resolve(symbols, "overlay", step.Overlay)
	if err != nil {
		return Invocation{}, err
	}

	var args []string
	if anchor := strings.TrimSpace(step.Anchor); anchor != "" {
		args = append(args, "-gravity", gravity(anchor))
	}
	if geometry := strings.TrimSpace(step.Geometry); geometry != "" {
		args = append(args, "-geometry", geometry)
	}
	mode := strings.TrimSpace(step.Mode)
	if mode == "" {
		mode = defaultBlendMode
	}
	args = append(args, "-compose", blendCompose(mode), "-composite")
	return Invocation{Inputs: []string{base, overlay}, Args: args}, nil
}

func parseAspect(aspect string) (float64, error) {
	parts := strings.SplitN(aspect, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("aspect %q must be integer:integer", aspect)
	}
	width, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("aspect %q must be integer:integer", aspect)
	}
	height, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("aspect %q must be integer:integer", aspect)
	}
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("aspect %q components must be positive", aspect)
	}
	return float64(width) / float64(height), nil
}

func background(step domain.Step) string {
	if bg := strings.TrimSpace(step.Background); bg != "" {
		return bg
	}
	return defaultBackground
}

// formatCoeff renders a numeric coefficient rounded to four decimals with
// trailing zeros stripped, keeping deferred formulas compact.
func formatCoeff(v float64) string {
	return strconv.FormatFloat(math.Round(v*10000)/10000, 'f', -1, 64)
}

var gravities = map[string]string{
	"center":    "Center",
	"north":     "North",
	"south":     "South",
	"east":      "East",
	"west":      "West",
	"northeast": "NorthEast",
	"northwest": "NorthWest",
	"southeast": "SouthEast",
	"southwest": "SouthWest",
}

func gravity(anchor string) string {
	anchor = strings.ToLower(strings.TrimSpace(anchor))
	if anchor == "" {
		anchor = defaultAnchor
	}
	if g, ok := gravities[anchor]; ok {
		return g
	}
	return gravities[defaultAnchor]
}

var composeModes = map[string]string{
	"over":     "Over",
	"multiply": "Multiply",
	"screen":   "Screen",
	"overlay":  "Overlay",
	"darken":   "Darken",
	"lighten":  "Lighten",
}

func blendCompose(mode string) string {
	if c, ok := composeModes[strings.ToLower(mode)]; ok {
		return c
	}
	return composeModes[defaultBlendMode]
}
