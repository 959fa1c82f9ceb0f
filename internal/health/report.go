package health

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mozilla-ai/fleetd/internal/domain"
	"github.com/mozilla-ai/fleetd/internal/files"
	"github.com/mozilla-ai/fleetd/internal/perms"
)

// EncodeReport serialises a report as YAML when format is "yaml" or "yml", and as indented JSON otherwise.
func EncodeReport(report domain.HealthReport, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		data, err := yaml.Marshal(report)
		if err != nil {
			return nil, fmt.Errorf("failed to encode report as yaml: %w", err)
		}
		return data, nil
	default:
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode report as json: %w", err)
		}
		return append(data, '\n'), nil
	}
}

// WriteReport persists report at path, choosing the encoding from the file extension.
// The file is replaced atomically.
func WriteReport(path string, report domain.HealthReport) error {
	format := strings.TrimPrefix(filepath.Ext(path), ".")

	data, err := EncodeReport(report, format)
	if err != nil {
		return err
	}

	return files.WriteAtomic(path, data, perms.RegularFile)
}
