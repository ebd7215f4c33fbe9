package availability

import (
	"reflect"
	"testing"
)

func TestNormalizeAcceptsSnakeAndCamelCase(t *testing.T) {
	snake := Normalize(map[string]any{
		"pickup_unlocode":  "GBMAN",
		"dropoff_unlocode": "GBGLA",
		"driver_age":       float64(25),
		"agreement_refs":   "AGR-1",
	})
	camel := Normalize(map[string]any{
		"pickupUnlocode":  "GBMAN",
		"dropoffUnlocode": "GBGLA",
		"driverAge":       float64(25),
		"agreementRefs":   "AGR-1",
	})

	if snake.PickupUNLocode != "GBMAN" || snake.DropoffUNLocode != "GBGLA" || snake.DriverAge != 25 {
		t.Fatalf("snake_case normalization failed: %+v", snake)
	}
	if !reflect.DeepEqual(snake, camel) {
		t.Errorf("snake_case and camelCase inputs should normalize identically, got %+v vs %+v", snake, camel)
	}
}

func TestNormalizeCoercesSingletonAgreementRef(t *testing.T) {
	c := Normalize(map[string]any{"agreement_refs": "AGR-1"})
	if !reflect.DeepEqual(c.AgreementRefs, []string{"AGR-1"}) {
		t.Errorf("expected singleton agreement_ref coerced into a list, got %v", c.AgreementRefs)
	}
}

func TestNormalizeAcceptsAgreementRefList(t *testing.T) {
	c := Normalize(map[string]any{"agreement_refs": []any{"AGR-1", "AGR-2"}})
	if !reflect.DeepEqual(c.AgreementRefs, []string{"AGR-1", "AGR-2"}) {
		t.Errorf("expected agreement_refs list preserved, got %v", c.AgreementRefs)
	}
}

func TestNormalizeMissingFieldsAreZeroValue(t *testing.T) {
	c := Normalize(map[string]any{})
	if c.PickupUNLocode != "" || c.DriverAge != 0 || c.AgreementRefs != nil {
		t.Errorf("expected zero-value criteria for empty input, got %+v", c)
	}
}
