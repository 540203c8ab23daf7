package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	root := newRootCmd()

	for _, name := range []string{"up", "down", "status", "rebuild-projections"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
		assert.NotNil(t, cmd.RunE, name)
	}

	assert.NotNil(t, root.PersistentFlags().Lookup("dsn"))
	assert.NotNil(t, root.PersistentFlags().Lookup("dir"))
}
