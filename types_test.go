package strata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolicyPrimaryKeyDefaults(t *testing.T) {
	assert.Equal(t, "id", EntityPolicy{Table: "tasks"}.PrimaryKey())
	assert.Equal(t, "task_id", EntityPolicy{Table: "tasks", IDColumn: "task_id"}.PrimaryKey())
}

func TestEqShorthand(t *testing.T) {
	f := Eq("title", "x")
	assert.Equal(t, Filter{Column: "title", Op: FilterEquals, Value: "x"}, f)
}
