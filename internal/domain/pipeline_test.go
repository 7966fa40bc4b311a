package domain

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestPipelineRoundTrip(t *testing.T) {
	original := Pipeline{
		Inputs: map[string]InputSpec{
			"original": {URL: "https://img.example.com/original.png"},
			"mask":     {Type: InputObjectStore, Bucket: "assets", Key: "masks/frame.tif"},
		},
		Steps: []Step{
			{Op: OpMaskAlpha, Src: "original", Mask: "mask", Out: "masked"},
			{Op: OpTrimRepage, Src: "masked", Out: "t1"},
			{Op: OpPadToAspect, Src: "t1", Aspect: "3:4", PadPct: 0.06, Background: "white", Out: "t2"},
			{Op: OpExport, Src: "t2", As: "jpg", Quality: 92},
		},
	}

	encoded, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal() err=%v", err)
	}

	var decoded Pipeline
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal() err=%v", err)
	}
	if !reflect.DeepEqual(original, decoded) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", decoded, original)
	}
}

func TestInputSpecBareURL(t *testing.T) {
	var spec InputSpec
	if err := json.Unmarshal([]byte(`"https://img.example.com/a.png"`), &spec); err != nil {
		t.Fatalf("Unmarshal() err=%v", err)
	}
	if spec.URL != "https://img.example.com/a.png" {
		t.Fatalf("URL=%q", spec.URL)
	}
	if spec.Kind() != InputURL {
		t.Fatalf("Kind()=%q want %q", spec.Kind(), InputURL)
	}

	// A bare URL re-encodes as a bare string.
	encoded, err := json.Marshal(spec)
	if err != nil {
		t.Fatalf("Marshal() err=%v", err)
	}
	if string(encoded) != `"https://img.example.com/a.png"` {
		t.Fatalf("encoded=%s", encoded)
	}
}

func TestInputSpecKind(t *testing.T) {
	tests := []struct {
		spec InputSpec
		want string
	}{
		{InputSpec{Type: InputInline, Data: "aGk="}, InputInline},
		{InputSpec{Type: InputMultipart, Field: "upload"}, InputMultipart},
		{InputSpec{URL: "https://img.example.com/a.png"}, InputURL},
		{InputSpec{URL: "ftp://img.example.com/a.png"}, ""},
	}
	for _, tt := range tests {
		if got := tt.spec.Kind(); got != tt.want {
			t.Fatalf("Kind(%+v)=%q want %q", tt.spec, got, tt.want)
		}
	}
}

func TestSourceFields(t *testing.T) {
	composite := Step{Op: OpComposite, Base: "bg", Overlay: "logo"}
	got := composite.SourceFields()
	want := [][2]string{{"base", "bg"}, {"overlay", "logo"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SourceFields()=%v want %v", got, want)
	}

	mask := Step{Op: OpMaskAlpha, Src: "a", Mask: "m"}
	if got := mask.SourceFields(); len(got) != 2 || got[1][0] != "mask" {
		t.Fatalf("SourceFields()=%v", got)
	}
}
