package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/ratingrec/pkg/models"
)

func TestEmbeddedValidator_LoadsSchemas(t *testing.T) {
	sv, err := NewEmbeddedValidator()
	require.NoError(t, err)

	assert.True(t, sv.SchemaExists(SchemaEngineCommand))
	assert.True(t, sv.SchemaExists(SchemaEngineEvent))
	assert.False(t, sv.SchemaExists("content-item"))
}

func TestValidateCommand(t *testing.T) {
	sv, err := NewEmbeddedValidator()
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload string
		valid   bool
	}{
		{"reload", `{"type":"reload"}`, true},
		{"generate with sample and seed", `{"type":"generate","sample_users":500,"seed":42}`, true},
		{"generate with top_n", `{"type":"generate","top_n":5}`, true},
		{"missing type", `{"sample_users":10}`, false},
		{"unknown type", `{"type":"retrain"}`, false},
		{"zero sample", `{"type":"generate","sample_users":0}`, false},
		{"top_n too large", `{"type":"generate","top_n":101}`, false},
		{"unknown field", `{"type":"reload","force":true}`, false},
		{"sample as string", `{"type":"generate","sample_users":"10"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := sv.ValidateCommand(tt.payload)
			assert.Equal(t, tt.valid, result.Valid, "errors: %v", result.Errors)
			if tt.valid {
				assert.NoError(t, result.Err())
			} else {
				assert.Error(t, result.Err())
			}
		})
	}
}

func TestValidateEvent_FromStruct(t *testing.T) {
	sv, err := NewEmbeddedValidator()
	require.NoError(t, err)

	event := models.EngineEvent{
		Type:      models.EventBatchCompleted,
		Summary:   &models.BatchSummary{Attempted: 3, Succeeded: 2},
		Timestamp: time.Now().UTC(),
	}
	assert.True(t, sv.ValidateEvent(event).Valid)

	event.Type = "something_else"
	assert.False(t, sv.ValidateEvent(event).Valid)
}

func TestValidate_UnknownSchema(t *testing.T) {
	sv := NewSchemaValidator()

	result := sv.ValidateCommand(`{"type":"reload"}`)
	require.False(t, result.Valid)
	assert.Equal(t, "SCHEMA_NOT_FOUND", result.Errors[0].Code)
}
