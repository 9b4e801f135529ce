package stagerunner

import "judged/internal/sandbox"

// The helper* types mirror the wire contract expected by the sandbox-init
// helper process: a single JSON document written to its stdin describing
// the command to exec and the isolation to apply before doing so.

type helperMountSpec struct {
	Source   string `json:"Source"`
	Target   string `json:"Target"`
	ReadOnly bool   `json:"ReadOnly"`
}

type helperResourceLimit struct {
	CPUTimeMs  int64 `json:"CPUTimeMs"`
	WallTimeMs int64 `json:"WallTimeMs"`
	MemoryMB   int64 `json:"MemoryMB"`
	StackMB    int64 `json:"StackMB"`
	OutputMB   int64 `json:"OutputMB"`
	PIDs       int64 `json:"PIDs"`
}

type helperRunSpec struct {
	WorkDir    string              `json:"WorkDir"`
	Cmd        []string            `json:"Cmd"`
	Env        []string            `json:"Env"`
	StdinPath  string              `json:"StdinPath"`
	StdoutPath string              `json:"StdoutPath"`
	StderrPath string              `json:"StderrPath"`
	BindMounts []helperMountSpec   `json:"BindMounts"`
	Limits     helperResourceLimit `json:"Limits"`
}

type helperIsolationProfile struct {
	RootFS         string `json:"RootFS"`
	SeccompProfile string `json:"SeccompProfile"`
	DisableNetwork bool   `json:"DisableNetwork"`
}

type helperInitRequest struct {
	RunSpec       helperRunSpec          `json:"RunSpec"`
	Isolation     helperIsolationProfile `json:"Isolation"`
	EnableSeccomp bool                   `json:"EnableSeccomp"`
	EnableNs      bool                   `json:"EnableNs"`
}

func toHelperLimits(limits sandbox.ResourceLimit) helperResourceLimit {
	return helperResourceLimit{
		CPUTimeMs:  limits.CPUTimeMs,
		WallTimeMs: limits.WallTimeMs,
		MemoryMB:   limits.MemoryMB,
		OutputMB:   limits.OutputMB,
		PIDs:       limits.PIDs,
	}
}
