package session

// Inbound message shapes. Every frame is a single JSON object
// discriminated by "type"; fields irrelevant to a given type are
// tolerated and ignored by encoding/json.

type inboundEnvelope struct {
	Type string `json:"type"`
}

type fileMsg struct {
	Name     string `json:"name,omitempty"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty"`
}

type limitMsg struct {
	TimeoutMs   *int64 `json:"timeout_ms,omitempty"`
	CPUTimeMs   *int64 `json:"cpu_time_ms,omitempty"`
	MemoryBytes *int64 `json:"memory_bytes,omitempty"`
}

type initMsg struct {
	Type         string    `json:"type"`
	Language     string    `json:"language"`
	Version      string    `json:"version"`
	Files        []fileMsg `json:"files"`
	CompileLimit *limitMsg `json:"compile_limit,omitempty"`
	RunLimit     *limitMsg `json:"run_limit,omitempty"`
}

type runTestMsg struct {
	Type         string `json:"type"`
	Stdin        string `json:"stdin"`
	TestID       string `json:"test_id,omitempty"`
	TimeoutMs    *int64 `json:"timeout,omitempty"`
	CPUTimeMs    *int64 `json:"cpu_time,omitempty"`
	MemoryLimit  *int64 `json:"memory_limit,omitempty"`
}

type testCaseMsg struct {
	Stdin  string `json:"stdin"`
	TestID string `json:"test_id,omitempty"`
}

type runBatchMsg struct {
	Type        string        `json:"type"`
	TestCases   []testCaseMsg `json:"test_cases"`
	TimeoutMs   *int64        `json:"timeout,omitempty"`
	CPUTimeMs   *int64        `json:"cpu_time,omitempty"`
	MemoryLimit *int64        `json:"memory_limit,omitempty"`
}

// Outbound message shapes.

type readyMsg struct {
	Type     string `json:"type"`
	Language string `json:"language"`
	Version  string `json:"version"`
	Compiled bool   `json:"compiled"`
}

type compiledMsg struct {
	Type    string  `json:"type"`
	Success bool    `json:"success"`
	Time    int64   `json:"time"`
	Stdout  string  `json:"stdout"`
	Stderr  string  `json:"stderr"`
	Error   *string `json:"error"`
}

type resultMsg struct {
	Type    string  `json:"type,omitempty"`
	TestID  string  `json:"test_id"`
	Stdout  string  `json:"stdout"`
	Stderr  string  `json:"stderr"`
	Code    *int    `json:"code"`
	Signal  *string `json:"signal"`
	Message string  `json:"message,omitempty"`
	Status  string  `json:"status"`
	Time    int64   `json:"time"`
	CPUTime int64   `json:"cpu_time"`
	Memory  int64   `json:"memory"`
}

type batchResultMsg struct {
	Type         string      `json:"type"`
	Results      []resultMsg `json:"results"`
	TotalTests   int         `json:"total_tests"`
	TotalTime    int64       `json:"total_time"`
	TotalCPUTime int64       `json:"total_cpu_time"`
	Memory       int64       `json:"memory"`
	Success      bool        `json:"success"`
	Stderr       string      `json:"stderr"`
}

type doneMsg struct {
	Type       string `json:"type"`
	TotalTests int    `json:"total_tests"`
	TotalTime  int64  `json:"total_time"`
}

type errorMsg struct {
	Type    string `json:"type"`
	TestID  string `json:"test_id,omitempty"`
	Message string `json:"message"`
}
