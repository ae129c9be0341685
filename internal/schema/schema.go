// Package schema validates change payloads at the protocol boundary, on
// both the client and the server, so malformed records never reach a store.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/dmitrijs2005/notesync/internal/common"
)

//go:embed note.schema.json
var noteSchema []byte

const noteSchemaURL = "https://notesync.local/schema/note.json"

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

func compile() {
	c := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(noteSchema))
	if err != nil {
		compileErr = fmt.Errorf("parse note schema: %w", err)
		return
	}
	if err := c.AddResource(noteSchemaURL, doc); err != nil {
		compileErr = fmt.Errorf("add note schema: %w", err)
		return
	}
	sch, err := c.Compile(noteSchemaURL)
	if err != nil {
		compileErr = fmt.Errorf("compile note schema: %w", err)
		return
	}
	compiled = map[string]*jsonschema.Schema{common.TableNotes: sch}
}

// Validate checks raw against the schema registered for table. Failures
// are validation errors.
func Validate(table string, raw json.RawMessage) error {
	compileOnce.Do(compile)
	if compileErr != nil {
		return compileErr
	}

	sch, ok := compiled[table]
	if !ok {
		return common.NewValidationError("schema.validate", fmt.Sprintf("unknown table %q", table))
	}
	if len(raw) == 0 {
		return common.NewValidationError("schema.validate", "empty payload")
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return common.NewValidationError("schema.validate", fmt.Sprintf("malformed json: %v", err))
	}
	if err := sch.Validate(inst); err != nil {
		return common.NewValidationError("schema.validate", err.Error())
	}
	return nil
}
