package job

import (
	"path/filepath"
	"strings"

	"github.com/google/shlex"

	"judged/internal/registry"
	"judged/pkg/apperrors"
)

const workDirInSandbox = "." // compile/run always execute relative to the sandbox root

// buildCommand expands a runtime's {src}/{bin} command template and
// tokenizes it into an argv, the same templating scheme the runtime
// registry's descriptors are authored against.
func buildCommand(tpl string, rt registry.Descriptor) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, apperrors.New(apperrors.ValidationError).WithMessage("command template is required")
	}
	expanded := tpl
	if rt.SourceFile != "" {
		expanded = strings.ReplaceAll(expanded, "{src}", filepath.Join(workDirInSandbox, rt.SourceFile))
	}
	if rt.BinaryFile != "" {
		expanded = strings.ReplaceAll(expanded, "{bin}", filepath.Join(workDirInSandbox, rt.BinaryFile))
	}
	argv, err := shlex.Split(expanded)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ValidationError, "parse command template: %v", err)
	}
	if len(argv) == 0 {
		return nil, apperrors.New(apperrors.ValidationError).WithMessage("command is empty after expansion")
	}
	return argv, nil
}
