package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate(`You help {{ .user | upper }}.{{ if .tools }} Tools: {{ join ", " .tools }}.{{ end }}`, map[string]any{
		"user":  "alice",
		"tools": []string{"get_weather", "current_time"},
	})
	require.NoError(t, err)
	assert.Equal(t, "You help ALICE. Tools: get_weather, current_time.", out)
}

func TestRenderTemplatePlainText(t *testing.T) {
	out, err := RenderTemplate("You are helpful.", nil)
	require.NoError(t, err)
	assert.Equal(t, "You are helpful.", out)
}

func TestRenderTemplateParseError(t *testing.T) {
	_, err := RenderTemplate("{{ .user ", nil)
	require.Error(t, err)
}
