package cmd

import (
	"fmt"
	"github.com/arcward/cardtrivia/cardtrivia"
	"github.com/stretchr/testify/assert"
	"io"
	"os"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := cardtrivia.Version
	originalCommitSHA := cardtrivia.CommitSHA
	originalBuildTime := cardtrivia.BuildTime

	t.Cleanup(
		func() {
			cardtrivia.Version = originalVersion
			cardtrivia.CommitSHA = originalCommitSHA
			cardtrivia.BuildTime = originalBuildTime
		},
	)

	cardtrivia.Version = "1.0.0"
	cardtrivia.CommitSHA = "abc123"
	cardtrivia.BuildTime = "2024-10-01T12:00:00Z"

	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	t.Cleanup(
		func() {
			os.Stdout = orig
		},
	)

	versionCmd.Run(nil, nil)

	_ = w.Close()

	out, _ := io.ReadAll(r)
	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		cardtrivia.Version,
		cardtrivia.CommitSHA,
		cardtrivia.BuildTime,
	)
	assert.Equal(t, expected, string(out))
}
