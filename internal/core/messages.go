package core

// MessageType identifies the kind of message posted to the run's owner.
type MessageType string

const (
	MessageError      MessageType = "error"
	MessageResult     MessageType = "result"
	MessageCompletion MessageType = "completion"
)

// TestStatus is the outcome of a single test case.
type TestStatus int

const (
	StatusPass TestStatus = iota
	StatusFail
	StatusTimeout
	StatusNotRun
	StatusPreconditionFailed
)

var testStatusNames = [...]string{"PASS", "FAIL", "TIMEOUT", "NOTRUN", "PRECONDITION_FAILED"}

func (s TestStatus) String() string {
	if s < 0 || int(s) >= len(testStatusNames) {
		return "UNKNOWN"
	}
	return testStatusNames[s]
}

// HarnessCode is the overall status of a test file.
type HarnessCode int

const (
	HarnessOK HarnessCode = iota
	HarnessError
	HarnessTimeout
	HarnessPreconditionFailed
)

var harnessCodeNames = [...]string{"OK", "ERROR", "TIMEOUT", "PRECONDITION_FAILED"}

func (c HarnessCode) String() string {
	if c < 0 || int(c) >= len(harnessCodeNames) {
		return "UNKNOWN"
	}
	return harnessCodeNames[c]
}

// ErrorInfo describes an uncaught failure.
type ErrorInfo struct {
	Message string `json:"message"`
	Name    string `json:"name"`
	Stack   string `json:"stack"`
}

// TestResult is reported once per test case.
type TestResult struct {
	Status  TestStatus `json:"status"`
	Name    string     `json:"name"`
	Message string     `json:"message"`
	Stack   string     `json:"stack"`
}

// HarnessStatus is reported once when the whole file finishes.
type HarnessStatus struct {
	Status  HarnessCode `json:"status"`
	Message string      `json:"message,omitempty"`
	Stack   string      `json:"stack,omitempty"`
}

// Message is posted from a run to its owner. Exactly one of Error,
// Result or Status is set, matching Type.
type Message struct {
	Type   MessageType    `json:"type"`
	Error  *ErrorInfo     `json:"error,omitempty"`
	Result *TestResult    `json:"result,omitempty"`
	Status *HarnessStatus `json:"status,omitempty"`
}

// Sink receives messages in the order they are produced.
type Sink func(Message)

// ErrorMessage builds an error message.
func ErrorMessage(info ErrorInfo) Message {
	return Message{Type: MessageError, Error: &info}
}

// ResultMessage builds a result message.
func ResultMessage(r TestResult) Message {
	return Message{Type: MessageResult, Result: &r}
}

// CompletionMessage builds a completion message.
func CompletionMessage(s HarnessStatus) Message {
	return Message{Type: MessageCompletion, Status: &s}
}
