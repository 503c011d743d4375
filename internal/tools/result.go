package tools

// Result is the uniform envelope every tool invocation produces. Failures
// are data: the loop feeds them back to the model instead of aborting.
type Result struct {
	OK    bool     `json:"ok"`
	Data  string   `json:"data,omitempty"`
	Error *Failure `json:"error,omitempty"`
	Meta  Meta     `json:"meta"`
}

// Meta carries execution metadata alongside the payload.
type Meta struct {
	// ElapsedMS is wall-clock execution time in milliseconds.
	ElapsedMS int64 `json:"elapsed_ms"`

	// Truncated is set when Data was cut to the result size cap.
	Truncated bool `json:"truncated"`

	// OutputHash is the hex sha256 of the full untruncated output, so a
	// truncated result still identifies what the tool actually produced.
	OutputHash string `json:"output_hash,omitempty"`
}

// Success builds an OK result.
func Success(data string, meta Meta) Result {
	return Result{OK: true, Data: data, Meta: meta}
}

// Failed builds an error result from a classified failure.
func Failed(f *Failure, meta Meta) Result {
	return Result{OK: false, Error: f, Meta: meta}
}
