package job

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"judged/pkg/apperrors"
)

// materialize decodes and writes every SourceFile into root, honoring
// per-file encoding and assigning a deterministic name when absent: the
// first unnamed file takes the runtime's source-file convention, every
// further unnamed file gets an ordinal fallback name.
func materialize(root string, files []SourceFile, conventionalName string) error {
	usedConventional := false
	for i, f := range files {
		name := f.Name
		if name == "" {
			if !usedConventional && conventionalName != "" {
				name = conventionalName
				usedConventional = true
			} else {
				name = fmt.Sprintf("extra_%d.txt", i)
			}
		}
		content, err := decode(f.Content, f.Encoding)
		if err != nil {
			return apperrors.Wrapf(err, apperrors.ValidationError, "decode file %q: %v", name, err)
		}
		path := filepath.Join(root, name)
		if err := os.WriteFile(path, content, 0644); err != nil {
			return apperrors.Wrapf(err, apperrors.SandboxSetupFailed, "write file %q: %v", name, err)
		}
	}
	return nil
}

func decode(content string, enc Encoding) ([]byte, error) {
	switch enc {
	case "", EncodingUTF8:
		return []byte(content), nil
	case EncodingBase64:
		return base64.StdEncoding.DecodeString(content)
	case EncodingHex:
		return hex.DecodeString(content)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", enc)
	}
}
