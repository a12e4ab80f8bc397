package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type awardPayload struct {
	ChildID  string `json:"child_id" validate:"required,uuid"`
	Amount   int64  `json:"amount" validate:"gte=1"`
	Reason   string `json:"reason" validate:"required,test_reason"`
	RefTable string `json:"ref_table" validate:"required_with=RefID"`
	RefID    string `json:"ref_id"`
}

func init() {
	RegisterOneOf("test_reason", []string{"activity_complete", "gift"})
}

type adjustPayload struct {
	Delta int64 `json:"delta" validate:"nonzero"`
}

func TestValidateUsesJSONNames(t *testing.T) {
	errs := Validate(&awardPayload{ChildID: "nope", Amount: 0, Reason: "bribe", RefID: "x"})

	assert.Contains(t, errs, "child_id")
	assert.Contains(t, errs, "amount")
	assert.Contains(t, errs, "reason")
	assert.Contains(t, errs, "ref_table")
}

func TestValidateAcceptsValidPayload(t *testing.T) {
	errs := Validate(&awardPayload{
		ChildID: "7b0b0c3e-9f7e-4d55-9a5b-0f2d0a4c1e11",
		Amount:  5,
		Reason:  "activity_complete",
	})
	assert.Nil(t, errs)
}

func TestNonzero(t *testing.T) {
	assert.Contains(t, Validate(&adjustPayload{}), "delta")
	assert.Nil(t, Validate(&adjustPayload{Delta: -3}))
}

func TestRegisterOneOfMessageListsValues(t *testing.T) {
	errs := Validate(&awardPayload{
		ChildID: "7b0b0c3e-9f7e-4d55-9a5b-0f2d0a4c1e11",
		Amount:  5,
		Reason:  "bribe",
	})
	assert.Equal(t, "Invalid value. Must be one of: activity_complete, gift", errs["reason"])
}
