package cmd

import (
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/yehezkieldio/avalon/avalon"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := avalon.Version
	originalCommitSHA := avalon.CommitSHA
	originalBuildTime := avalon.BuildTime

	t.Cleanup(
		func() {
			avalon.Version = originalVersion
			avalon.CommitSHA = originalCommitSHA
			avalon.BuildTime = originalBuildTime
		},
	)

	avalon.Version = "1.0.0"
	avalon.CommitSHA = "abc123"
	avalon.BuildTime = "2025-08-01T12:00:00Z"

	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	t.Cleanup(
		func() {
			os.Stdout = orig
		},
	)

	// Capture the output
	versionCmd.Run(nil, nil)

	_ = w.Close()

	out, _ := io.ReadAll(r)
	output := string(out)
	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		avalon.Version,
		avalon.CommitSHA,
		avalon.BuildTime,
	)
	assert.Equal(t, expected, output)
}
