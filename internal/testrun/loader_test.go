package testrun

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedExample(t *testing.T) {
	def, err := Load("capital-cities")
	require.NoError(t, err)

	assert.Equal(t, "Capital cities", def.Title)
	assert.Equal(t, 3, def.NumRequests)
	assert.Len(t, def.Providers, 2)
	assert.Contains(t, def.ReviewMessage, "Canberra")
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "def.yaml")
	content := `title: t
user_message: hi
review_message: must greet
num_requests: 2
providers: [a, a, b]
`
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	def, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a", "b"}, def.Providers)
}

func TestLoadNonexistent(t *testing.T) {
	_, err := Load("nonexistent-definition")
	assert.Error(t, err)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("title: t\nbogus: 1\n"))
	assert.Error(t, err)
}

func TestParseValidates(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{
			name:    "missing prompt",
			input:   "review_message: r\nnum_requests: 1\nproviders: [a]\n",
			wantErr: "user_message is required",
		},
		{
			name:    "zero requests",
			input:   "user_message: u\nreview_message: r\nnum_requests: 0\nproviders: [a]\n",
			wantErr: "num_requests must be positive",
		},
		{
			name:    "no providers",
			input:   "user_message: u\nreview_message: r\nnum_requests: 1\n",
			wantErr: "at least one provider",
		},
		{
			name:    "blank provider",
			input:   "user_message: u\nreview_message: r\nnum_requests: 1\nproviders: [\" \"]\n",
			wantErr: "provider 0 is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExamples(t *testing.T) {
	names, err := Examples()
	require.NoError(t, err)
	assert.Contains(t, names, "capital-cities")
	assert.Contains(t, names, "json-output")
}

func TestLoadExampleIgnoresFilesystem(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capital-cities.yaml")
	require.NoError(t, os.WriteFile(path, []byte("title: local\n"), 0o644))

	def, err := LoadExample("capital-cities")
	require.NoError(t, err)
	assert.Equal(t, "Capital cities", def.Title)

	_, err = LoadExample(path)
	assert.Error(t, err)
}
