package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/grafana/pausesim/api"
	"github.com/grafana/pausesim/telemetry"
)

// Trace formats, picked by the output path's extension.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// FormatOf returns the trace format for path. Anything but a .yaml or .yml
// extension is JSON.
func FormatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// EncodeTrace serializes trace as a top-level list of records.
func EncodeTrace(trace []telemetry.LogRecord, format string) ([]byte, error) {
	if trace == nil {
		trace = []telemetry.LogRecord{}
	}

	buf, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding trace")
	}
	if format == FormatYAML {
		if buf, err = yaml.JSONToYAML(buf); err != nil {
			return nil, errors.Wrap(err, "converting trace to YAML")
		}
	}

	return buf, nil
}

// PersistTrace writes trace to path in one go.
func PersistTrace(ctx context.Context, persister FilePersister, trace []telemetry.LogRecord, path string) error {
	buf, err := EncodeTrace(trace, FormatOf(path))
	if err != nil {
		return fmt.Errorf("%w: %v", api.ErrPersist, err)
	}
	if err := persister.Persist(ctx, path, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("%w: %v", api.ErrPersist, errors.Wrapf(err, "writing %d records to %q", len(trace), path))
	}

	return nil
}

// ReadTrace loads a trace written by PersistTrace.
func ReadTrace(path string) ([]telemetry.LogRecord, error) {
	buf, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrapf(err, "reading trace %q", path)
	}
	if FormatOf(path) == FormatYAML {
		if buf, err = yaml.YAMLToJSON(buf); err != nil {
			return nil, errors.Wrapf(err, "converting trace %q from YAML", path)
		}
	}

	var trace []telemetry.LogRecord
	if err := json.Unmarshal(buf, &trace); err != nil {
		return nil, errors.Wrapf(err, "decoding trace %q", path)
	}

	return trace, nil
}
