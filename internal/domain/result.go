package domain

// Artifact is a transient local file holding an image at some stage of a run.
// Release removes it; the executor guarantees Release runs exactly once.
type Artifact struct {
	Path    string
	Release func() error
}

// ObjectRef identifies an exported object in object storage.
type ObjectRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Region string `json:"region,omitempty"`
}

// ExportResult is one exported output: either an in-memory buffer or an
// object-store reference, never both.
type ExportResult struct {
	Buffer      []byte     `json:"-"`
	Object      *ObjectRef `json:"object,omitempty"`
	ContentType string     `json:"contentType"`
	Size        int64      `json:"size"`
}

type RunStats struct {
	TotalDurationMs int64 `json:"totalDurationMs"`
	StepsExecuted   int   `json:"stepsExecuted"`
	ImagesProcessed int   `json:"imagesProcessed"`
}

type StepTrace struct {
	Index      int    `json:"index"`
	Op         string `json:"op"`
	Out        string `json:"out,omitempty"`
	Status     string `json:"status"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

type RunResult struct {
	RunID   string         `json:"runId"`
	Outputs []ExportResult `json:"outputs"`
	Stats   RunStats       `json:"stats"`
	Trace   []StepTrace    `json:"trace"`
}
