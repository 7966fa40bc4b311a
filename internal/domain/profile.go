package domain

// Profile is a named, externally stored pipeline document intended for reuse
// across runs. On the wire it is a pipeline document plus a required name.
type Profile struct {
	Name string `json:"name"`
	Pipeline
}
