package types

import "testing"

func TestDataTypeIsValid(t *testing.T) {
	tests := []struct {
		name     string
		dataType DataType
		want     bool
	}{
		{"activity", DataTypeActivity, true},
		{"body", DataTypeBody, true},
		{"sleep", DataTypeSleep, true},
		{"nutrition", DataTypeNutrition, true},
		{"daily", DataTypeDaily, true},
		{"combined is not fetchable", DataTypeCombined, false},
		{"unknown", DataType("menstruation"), false},
		{"empty", DataType(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dataType.IsValid(); got != tt.want {
				t.Errorf("IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestServiceError(t *testing.T) {
	err := &ServiceError{
		Code:    "USER_NOT_FOUND",
		Message: "user not found: u-1",
	}

	if err.Error() != "user not found: u-1" {
		t.Errorf("Error() = %v, want %v", err.Error(), "user not found: u-1")
	}
}
