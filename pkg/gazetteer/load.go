package gazetteer

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		schema, schemaErr = compiler.Compile(schemaJSON)
	})
	return schema, schemaErr
}

type file struct {
	Version string   `json:"version"`
	Players []Player `json:"players"`
	Teams   []Team   `json:"teams"`
}

// Parse validates data against the gazetteer schema and builds a snapshot.
// When the file carries no version, the content digest is used.
func Parse(data []byte, maxDist int) (*Snapshot, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile gazetteer schema: %w", err)
	}
	if result := sch.ValidateJSON(data); !result.IsValid() {
		return nil, fmt.Errorf("gazetteer schema validation failed: %v", result.Errors)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode gazetteer: %w", err)
	}
	version := f.Version
	if version == "" {
		sum := sha256.Sum256(data)
		version = hex.EncodeToString(sum[:8])
	}
	return New(version, f.Players, f.Teams, maxDist), nil
}

// LoadFile reads and parses a gazetteer file.
func LoadFile(path string, maxDist int) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gazetteer: %w", err)
	}
	return Parse(data, maxDist)
}
