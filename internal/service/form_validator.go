package service

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/noah-isme/immigration-dms-api/internal/models"
	appErrors "github.com/noah-isme/immigration-dms-api/pkg/errors"
)

//go:embed formschemas/*.json
var formSchemaFS embed.FS

const formSchemaBase = "https://forms.immigration.local/"

// FormValidator checks that form data carries the fields required to submit
// an application of a given type.
type FormValidator interface {
	Validate(appType models.ApplicationType, formData json.RawMessage) error
}

// SchemaFormValidator validates form data against one JSON schema per
// application type.
type SchemaFormValidator struct {
	schemas map[models.ApplicationType]*jsonschema.Schema
}

// NewSchemaFormValidator compiles the embedded schemas.
func NewSchemaFormValidator() (*SchemaFormValidator, error) {
	entries, err := formSchemaFS.ReadDir("formschemas")
	if err != nil {
		return nil, fmt.Errorf("read form schemas: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	for _, entry := range entries {
		raw, err := formSchemaFS.ReadFile(path.Join("formschemas", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read form schema %s: %w", entry.Name(), err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse form schema %s: %w", entry.Name(), err)
		}
		if err := compiler.AddResource(formSchemaBase+entry.Name(), doc); err != nil {
			return nil, fmt.Errorf("add form schema %s: %w", entry.Name(), err)
		}
	}

	schemas := make(map[models.ApplicationType]*jsonschema.Schema, len(models.ApplicationTypes))
	for _, appType := range models.ApplicationTypes {
		sch, err := compiler.Compile(formSchemaBase + string(appType) + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile form schema %s: %w", appType, err)
		}
		schemas[appType] = sch
	}
	return &SchemaFormValidator{schemas: schemas}, nil
}

// Validate returns ErrValidation describing every missing or malformed field.
func (v *SchemaFormValidator) Validate(appType models.ApplicationType, formData json.RawMessage) error {
	sch, ok := v.schemas[appType]
	if !ok {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported application type %q", appType))
	}
	if len(bytes.TrimSpace(formData)) == 0 {
		formData = json.RawMessage(`{}`)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(formData))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "form data is not valid JSON")
	}
	if err := sch.Validate(inst); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "form data is incomplete")
	}
	return nil
}

// validateJSONObject rejects payloads that are not a JSON object.
func validateJSONObject(data json.RawMessage) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(trimmed, &obj); err != nil || obj == nil {
		return appErrors.Clone(appErrors.ErrValidation, "formData must be a JSON object")
	}
	return nil
}
