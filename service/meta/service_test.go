package meta

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
)

type document struct {
	Name  string `yaml:"name"`
	Owner string `yaml:"owner"`
}

func TestService_Load(t *testing.T) {
	dir := t.TempDir()
	content := "name: checkout\nowner: ${env.STEPFLOW_OWNER}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "checkout.yaml"), []byte(content), 0o644))
	t.Setenv("STEPFLOW_OWNER", "payments")

	service := New(afs.New(), dir)
	assert.Equal(t, "/abs/other.yaml", service.URL("/abs/other.yaml"))

	doc := &document{}
	require.NoError(t, service.Load(context.Background(), "checkout.yaml", doc))
	assert.Equal(t, "checkout", doc.Name)
	assert.Equal(t, "payments", doc.Owner)
}

func TestService_LoadExpandsOnce(t *testing.T) {
	dir := t.TempDir()
	content := "name: ${env.STEPFLOW_OUTER}\nowner: ${env.STEPFLOW_INNER}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested.yaml"), []byte(content), 0o644))
	t.Setenv("STEPFLOW_OUTER", "${env.STEPFLOW_INNER}")
	t.Setenv("STEPFLOW_INNER", "leaked")

	service := New(afs.New(), dir)
	doc := &document{}
	require.NoError(t, service.Load(context.Background(), "nested.yaml", doc))
	assert.Equal(t, "${env.STEPFLOW_INNER}", doc.Name)
	assert.Equal(t, "leaked", doc.Owner)

	data, err := service.Download(context.Background(), "nested.yaml")
	require.NoError(t, err)
	assert.Equal(t, "name: ${env.STEPFLOW_INNER}\nowner: leaked\n", string(data))
}

func TestService_LoadMissing(t *testing.T) {
	service := New(nil, t.TempDir())
	err := service.Load(context.Background(), "missing.yaml", &document{})
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	doc := &document{}
	require.NoError(t, Decode([]byte("name: refund"), doc))
	assert.Equal(t, "refund", doc.Name)
	assert.Error(t, Decode([]byte("name: [unterminated"), doc))
}
