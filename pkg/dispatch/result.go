package dispatch

// Message is the push content handed to a Backend.
type Message struct {
	Title string            `json:"title,omitempty"`
	Body  string            `json:"body,omitempty"`
	Icon  string            `json:"icon,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

// ResultEntry is the per-target outcome reported by the provider.
// An empty Error means the target succeeded.
type ResultEntry struct {
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Result mirrors the provider response shape
// {multicast_id, success, failure, results: [{error?}]}.
// It is produced fresh for every send and never stored.
type Result struct {
	MulticastID string        `json:"multicast_id,omitempty"`
	Success     int           `json:"success"`
	Failure     int           `json:"failure"`
	Results     []ResultEntry `json:"results,omitempty"`
}

// FirstError returns the error code of the first result entry, which is the
// only entry a single-token send is expected to carry.
func (r *Result) FirstError() string {
	if r == nil || len(r.Results) == 0 {
		return ""
	}
	return r.Results[0].Error
}

// SuccessResult reports one delivered message.
func SuccessResult(messageID string) *Result {
	return &Result{
		Success: 1,
		Results: []ResultEntry{{MessageID: messageID}},
	}
}

// FailureResult reports one failed target with the provider error code.
func FailureResult(code string) *Result {
	return &Result{
		Failure: 1,
		Results: []ResultEntry{{Error: code}},
	}
}
