package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: a data type is valid exactly when it is listed in AllDataTypes
func TestDataTypeValidityProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	listed := make(map[DataType]bool, len(AllDataTypes))
	for _, d := range AllDataTypes {
		listed[d] = true
	}

	properties.Property("IsValid matches AllDataTypes membership", prop.ForAll(
		func(s string) bool {
			d := DataType(s)
			return d.IsValid() == listed[d]
		},
		gen.OneGenOf(
			gen.AlphaString(),
			gen.OneConstOf("activity", "body", "sleep", "nutrition", "daily", "combined"),
		),
	))

	properties.TestingRun(t)
}
