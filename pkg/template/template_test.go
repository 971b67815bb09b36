package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voyagerhq/voyager/pkg/models"
)

func TestResolveVariables(t *testing.T) {
	snapshot := &models.CustomerSnapshot{
		CustomerID: "c1",
		Attributes: map[string]any{
			"first_name":  "Ada",
			"cart_total":  129.5,
			"empty_field": "",
		},
	}

	mappings := []models.VariableMapping{
		{Variable: "name", Source: "attributes.first_name", Fallback: "there"},
		{Variable: "total", Source: "attributes.cart_total", Fallback: "0"},
		{Variable: "coupon", Source: "attributes.coupon_code", Fallback: "WELCOME10"},
		{Variable: "nick", Source: "attributes.empty_field", Fallback: "friend"},
	}

	values, issues := ResolveVariables(mappings, snapshot)

	assert.Equal(t, "Ada", values["name"])
	assert.Equal(t, "129.5", values["total"])

	// Missing and empty sources fall back, each with an issue.
	assert.Equal(t, "WELCOME10", values["coupon"])
	assert.Equal(t, "friend", values["nick"])
	require.Len(t, issues, 2)
	assert.Equal(t, "coupon", issues[0].Variable)
	assert.Equal(t, "source path not found", issues[0].Reason)
	assert.Equal(t, "nick", issues[1].Variable)
	assert.Equal(t, "source yielded empty value", issues[1].Reason)
}

func TestResolveVariables_NoMappings(t *testing.T) {
	values, issues := ResolveVariables(nil, &models.CustomerSnapshot{CustomerID: "c1"})

	assert.Empty(t, values)
	assert.Empty(t, issues)
}

func TestRenderBody(t *testing.T) {
	body := "Hi {{.name}}, your cart of {{.total}} is waiting."

	rendered, err := RenderBody(body, map[string]string{"name": "Ada", "total": "129.50"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada, your cart of 129.50 is waiting.", rendered)
}

func TestRenderBody_BadTemplate(t *testing.T) {
	_, err := RenderBody("Hi {{.name", nil)
	assert.Error(t, err)
}
