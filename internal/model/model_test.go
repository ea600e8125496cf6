package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDocument(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want Document
	}{
		{
			name: "canonical field names",
			raw: map[string]any{
				"TicketID":                  "101",
				"customer_id":               "2001",
				"locationID":                "15",
				"description":               "printer jam",
				"estimated_resolution_time": "18",
			},
			want: Document{
				TicketID:                "101",
				CustomerID:              "2001",
				LocationID:              "15",
				Description:             "printer jam",
				EstimatedResolutionTime: "18",
			},
		},
		{
			name: "snake_case aliases",
			raw: map[string]any{
				"ticket_id":              "7",
				"customer":               "42",
				"location_id":            "3",
				"content":                "vpn down",
				"actual_resolution_time": "36",
			},
			want: Document{
				TicketID:             "7",
				CustomerID:           "42",
				LocationID:           "3",
				Description:          "vpn down",
				ActualResolutionTime: "36",
			},
		},
		{
			name: "numeric values coerced to strings",
			raw: map[string]any{
				"id":                        float64(55),
				"customer_id":               float64(1234),
				"locationID":                float64(9),
				"description":               "screen flicker",
				"estimated_resolution_time": float64(12),
			},
			want: Document{
				TicketID:                "55",
				CustomerID:              "1234",
				LocationID:              "9",
				Description:             "screen flicker",
				EstimatedResolutionTime: "12",
			},
		},
		{
			name: "priority order wins over later aliases",
			raw: map[string]any{
				"TicketID":  "1",
				"ticket_id": "2",
				"id":        "3",
			},
			want: Document{TicketID: "1"},
		},
		{
			name: "empty document",
			raw:  map[string]any{},
			want: Document{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeDocument(tt.raw))
		})
	}
}

func TestCoerceString(t *testing.T) {
	assert.Equal(t, "18", CoerceString("18"))
	assert.Equal(t, "18", CoerceString(" 18 "))
	assert.Equal(t, "18", CoerceString(float64(18)))
	assert.Equal(t, "18.5", CoerceString(18.5))
	assert.Equal(t, "7", CoerceString(7))
	assert.Equal(t, "", CoerceString(nil))
}

func TestFlexID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "string", input: `"15"`, want: "15"},
		{name: "string with whitespace", input: `" 15 "`, want: "15"},
		{name: "integer", input: `15`, want: "15"},
		{name: "object rejected", input: `{"id": 15}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f FlexID
			err := json.Unmarshal([]byte(tt.input), &f)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.String())
		})
	}
}
