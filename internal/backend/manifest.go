package backend

import (
	"encoding/json"
	"fmt"
	"os"
)

type onnxManifest struct {
	Graphs []struct {
		Name     string `json:"name"`
		Filename string `json:"filename"`
	} `json:"graphs"`
}

// readManifestFilenames maps graph name -> on-disk filename from a session
// manifest.json, the same shape internal/onnx.SessionManager consumes.
func readManifestFilenames(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m onnxManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	out := make(map[string]string, len(m.Graphs))
	for _, g := range m.Graphs {
		out[g.Name] = g.Filename
	}
	return out, nil
}
