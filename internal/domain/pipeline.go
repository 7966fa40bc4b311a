package domain

import (
	"encoding/json"
	"strings"
)

// Operation vocabulary. Every step carries exactly one of these tags.
const (
	OpMaskAlpha   = "maskAlpha"
	OpMeasure     = "measure"
	OpTrimRepage  = "trimRepage"
	OpPadToAspect = "padToAspect"
	OpFlatten     = "flatten"
	OpResize      = "resize"
	OpColorspace  = "colorspace"
	OpFormat      = "format"
	OpComposite   = "composite"
	OpExport      = "export"
)

var knownOps = map[string]struct{}{
	OpMaskAlpha:   {},
	OpMeasure:     {},
	OpTrimRepage:  {},
	OpPadToAspect: {},
	OpFlatten:     {},
	OpResize:      {},
	OpColorspace:  {},
	OpFormat:      {},
	OpComposite:   {},
	OpExport:      {},
}

func KnownOp(op string) bool {
	_, ok := knownOps[op]
	return ok
}

// Input kinds recognized by the importer.
const (
	InputURL         = "url"
	InputObjectStore = "object-store"
	InputInline      = "inline-base64"
	InputMultipart   = "multipart-field"
)

// Resize modes.
const (
	ResizeWidth   = "width"
	ResizeHeight  = "height"
	ResizePercent = "percent"
	ResizeFit     = "fit"
)

var resizeModes = map[string]struct{}{
	ResizeWidth:   {},
	ResizeHeight:  {},
	ResizePercent: {},
	ResizeFit:     {},
}

func KnownResizeMode(mode string) bool {
	_, ok := resizeModes[mode]
	return ok
}

var outputFormats = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"webp": {},
	"tif":  {},
	"tiff": {},
	"gif":  {},
	"bmp":  {},
}

func KnownFormat(format string) bool {
	_, ok := outputFormats[strings.ToLower(format)]
	return ok
}

var colorspaces = map[string]struct{}{
	"srgb": {},
	"rgb":  {},
	"cmyk": {},
	"gray": {},
	"lab":  {},
	"hsl":  {},
}

func KnownColorspace(space string) bool {
	_, ok := colorspaces[strings.ToLower(space)]
	return ok
}

var blendModes = map[string]struct{}{
	"over":     {},
	"multiply": {},
	"screen":   {},
	"overlay":  {},
	"darken":   {},
	"lighten":  {},
}

func KnownBlendMode(mode string) bool {
	_, ok := blendModes[strings.ToLower(mode)]
	return ok
}

var anchors = map[string]struct{}{
	"center":    {},
	"north":     {},
	"south":     {},
	"east":      {},
	"west":      {},
	"northeast": {},
	"northwest": {},
	"southeast": {},
	"southwest": {},
}

func KnownAnchor(anchor string) bool {
	_, ok := anchors[strings.ToLower(anchor)]
	return ok
}

// Pipeline is the wire form of a processing document: named inputs plus an
// ordered step list.
type Pipeline struct {
	Inputs map[string]InputSpec `json:"inputs"`
	Steps  []Step               `json:"steps"`
}

// InputSpec describes where an input image comes from. On the wire it is
// either a bare URL string or a typed object.
type InputSpec struct {
	Type     string `json:"type,omitempty"`
	URL      string `json:"url,omitempty"`
	Bucket   string `json:"bucket,omitempty"`
	Key      string `json:"key,omitempty"`
	Region   string `json:"region,omitempty"`
	Data     string `json:"data,omitempty"`
	Field    string `json:"field,omitempty"`
	Filename string `json:"filename,omitempty"`

	// Bytes carries a pre-supplied payload (e.g. a multipart upload field).
	// It never travels on the wire.
	Bytes []byte `json:"-"`
}

// Kind returns the declared input type, or "url" for a bare URL literal.
func (s InputSpec) Kind() string {
	if t := strings.TrimSpace(s.Type); t != "" {
		return t
	}
	if IsHTTPURL(s.URL) {
		return InputURL
	}
	return ""
}

func IsHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func (s *InputSpec) UnmarshalJSON(raw []byte) error {
	if len(raw) > 0 && raw[0] == '"' {
		var url string
		if err := json.Unmarshal(raw, &url); err != nil {
			return err
		}
		*s = InputSpec{URL: url}
		return nil
	}
	type alias InputSpec
	var decoded alias
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	*s = InputSpec(decoded)
	return nil
}

func (s InputSpec) MarshalJSON() ([]byte, error) {
	if s.Type == "" && s.URL != "" && s.Bucket == "" && s.Key == "" &&
		s.Region == "" && s.Data == "" && s.Field == "" && s.Filename == "" {
		return json.Marshal(s.URL)
	}
	type alias InputSpec
	return json.Marshal(alias(s))
}

// Step is one declarative operation. Which fields apply depends on Op; the
// validator enforces the per-operation contract.
type Step struct {
	Op string `json:"op"`

	Src     string `json:"src,omitempty"`
	Out     string `json:"out,omitempty"`
	Mask    string `json:"mask,omitempty"`
	Base    string `json:"base,omitempty"`
	Overlay string `json:"overlay,omitempty"`

	Aspect     string  `json:"aspect,omitempty"`
	PadPct     float64 `json:"padPct,omitempty"`
	Background string  `json:"bg,omitempty"`
	Anchor     string  `json:"anchor,omitempty"`

	Mode     string  `json:"mode,omitempty"`
	Value    float64 `json:"value,omitempty"`
	Geometry string  `json:"geometry,omitempty"`
	Filter   string  `json:"filter,omitempty"`

	Space    string `json:"space,omitempty"`
	Format   string `json:"format,omitempty"`
	Quality  int    `json:"quality,omitempty"`
	Compress string `json:"compress,omitempty"`
	Density  int    `json:"density,omitempty"`

	As          string `json:"as,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Bucket      string `json:"bucket,omitempty"`
	Key         string `json:"key,omitempty"`
	Region      string `json:"region,omitempty"`
}

// SourceFields returns the fields of this step that reference an existing
// image symbol, in contract order, paired with the referenced names.
func (s Step) SourceFields() [][2]string {
	var refs [][2]string
	switch s.Op {
	case OpComposite:
		refs = append(refs, [2]string{"base", s.Base}, [2]string{"overlay", s.Overlay})
	case OpMaskAlpha:
		refs = append(refs, [2]string{"src", s.Src}, [2]string{"mask", s.Mask})
	default:
		refs = append(refs, [2]string{"src", s.Src})
	}
	return refs
}
