// Command schema prints the JSON schema of every replicated document.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/invopop/jsonschema"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/model"
)

func main() {
	var outPath string
	flag.StringVar(&outPath, "out", "", "path to write the JSON schema (stdout when empty)")
	flag.Parse()

	data, err := json.MarshalIndent(buildSchema(), "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal schema: %v\n", err)
		os.Exit(1)
	}
	data = append(data, '\n')

	if outPath == "" {
		_, _ = os.Stdout.Write(data)
		return
	}
	if err := writeSchema(outPath, data); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write schema: %v\n", err)
		os.Exit(1)
	}
}

// documents maps a definition name to the document stored under one root.
var documents = []struct {
	name  string
	path  string
	value any
}{
	{"player", model.PlayersRoot + "/<playerId>", model.PlayerDoc{}},
	{"object", "<category>/<objectId>", model.ObjectDoc{}},
	{"trigger", model.TriggersRoot + "/<triggerId>", model.TriggerDoc{}},
	{"game", model.GamesRoot + "/<gameId>", model.GameDoc{}},
}

func buildSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	root := &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "Coopworld shared documents",
		Description: "Documents peers replicate through the shared key-path store.",
		Definitions: jsonschema.Definitions{},
	}
	for _, d := range documents {
		s := reflector.ReflectFromType(reflect.TypeOf(d.value))
		s.Version = ""
		s.Description = "Stored at " + d.path
		root.Definitions[d.name] = s
	}
	return root
}

func writeSchema(outPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}
	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}
	return nil
}
