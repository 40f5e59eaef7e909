package modules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testVariables() Variables {
	return Variables{
		Model:  map[string]string{"host": "model-host", "user": "deployer"},
		Module: map[string]string{"host": "module-host", "region": "eu-west-1"},
	}
}

func TestVariables_Expand(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		want       string
		unresolved []string
	}{
		{"no references", "plain text", "plain text", nil},
		{"model shadows module", "${host}", "model-host", nil},
		{"falls back to module", "${region}", "eu-west-1", nil},
		{"model scope", "${model.host}", "model-host", nil},
		{"module scope", "${module.host}", "module-host", nil},
		{"scope does not fall back", "${model.region}", "${model.region}", []string{"model.region"}},
		{"several references", "${user}@${host}:${region}", "deployer@model-host:eu-west-1", nil},
		{"unknown kept verbatim", "a ${missing} b", "a ${missing} b", []string{"missing"}},
		{"surrounding spaces", "${ host }", "model-host", nil},
		{"unterminated", "${host", "${host", nil},
		{"empty reference", "${}", "${}", nil},
		{"nested reference", "${a${host}}", "${amodel-host}", nil},
		{"dollar without brace", "$host", "$host", nil},
	}
	v := testVariables()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, unresolved := v.Expand(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.unresolved, unresolved)
		})
	}
}

func TestVariables_ExpandContent(t *testing.T) {
	content := map[string]any{
		"url":   "https://${host}/${region}",
		"count": 3,
		"nested": map[string]any{
			"user": "${user}",
			"list": []any{"${module.host}", true, "${nope}"},
		},
		"${host}": "keys are not expanded",
		"again":   "${nope} ${other}",
	}

	got, unresolved := testVariables().ExpandContent(content)

	assert.Equal(t, map[string]any{
		"url":   "https://model-host/eu-west-1",
		"count": 3,
		"nested": map[string]any{
			"user": "deployer",
			"list": []any{"module-host", true, "${nope}"},
		},
		"${host}": "keys are not expanded",
		"again":   "${nope} ${other}",
	}, got)
	assert.Equal(t, []string{"nope", "other"}, unresolved)

	// The source content is left as it was.
	assert.Equal(t, "https://${host}/${region}", content["url"])
	assert.Equal(t, "${user}", content["nested"].(map[string]any)["user"])
}

func TestVariables_ExpandContentNil(t *testing.T) {
	got, unresolved := testVariables().ExpandContent(nil)
	assert.Nil(t, got)
	assert.Empty(t, unresolved)
}

func TestVariables_Empty(t *testing.T) {
	got, unresolved := Variables{}.Expand("${host}")
	assert.Equal(t, "${host}", got)
	assert.Equal(t, []string{"host"}, unresolved)
}
