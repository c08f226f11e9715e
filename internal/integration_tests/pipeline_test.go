package integration_tests

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/byteflow/internal/app"
	"github.com/vk/byteflow/internal/dag"
	"github.com/vk/byteflow/internal/nodeid"
	"github.com/vk/byteflow/internal/pipeline"
	"github.com/vk/byteflow/internal/ptype"
	"github.com/vk/byteflow/internal/report"
)

// harness builds a full application with the core catalog and evaluates the
// given pipeline definition, returning the report and the name mapping.
func harness(t *testing.T, pipelineHCL string) (*report.Report, map[string]nodeid.ID) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pipeline.hcl")
	require.NoError(t, os.WriteFile(path, []byte(pipelineHCL), 0o600))

	a, err := app.NewApp(io.Discard, &app.Config{
		PipelinePath: path,
		LogLevel:     "error",
		LogFormat:    "text",
	})
	require.NoError(t, err)

	g, names, err := pipeline.LoadAndBuild(context.Background(), a.Registry(), path)
	require.NoError(t, err)

	rep, err := g.Evaluate(context.Background(), dag.Options{Workers: 4})
	require.NoError(t, err)
	return rep, names
}

func textOutcome(t *testing.T, rep *report.Report, names map[string]nodeid.ID, node string) string {
	t.Helper()
	out, ok := rep.Outcome(names[node])
	require.True(t, ok)
	require.Equal(t, report.Succeeded, out.Status, "node %s: %s %s", node, out.Error, out.Reason)
	text, err := ptype.AsText(out.Values["output"])
	require.NoError(t, err)
	return text
}

func TestBase64Pipeline(t *testing.T) {
	rep, names := harness(t, `
node "text_input" "greeting" {
  config {
    text = "Hello"
  }
}

node "text_encode" "raw" {}

node "base64" "encoded" {}

node "text_decode" "rendered" {}

edge {
  from = "greeting.output"
  to   = "raw.text"
}

edge {
  from = "raw.output"
  to   = "encoded.data"
}

edge {
  from = "encoded.output"
  to   = "rendered.data"
}
`)
	assert.Equal(t, "SGVsbG8=", textOutcome(t, rep, names, "rendered"))
}

func TestDigestPipeline(t *testing.T) {
	rep, names := harness(t, `
node "hex_input" "payload" {
  config {
    hex = "616263"
  }
}

node "sha256" "checksum" {}

edge {
  from = "payload.output"
  to   = "checksum.data"
}
`)
	out, ok := rep.Outcome(names["checksum"])
	require.True(t, ok)
	require.Equal(t, report.Succeeded, out.Status)
	hexText, err := ptype.AsText(out.Values["hex"])
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", hexText)
}

func TestCipherPipeline(t *testing.T) {
	// "Key" is 4b6579 in hex; the RC4 keystream vector is well known.
	rep, names := harness(t, `
node "text_input" "plain" {
  config {
    text = "Plaintext"
  }
}

node "text_encode" "raw" {}

node "rc4" "cipher" {
  config {
    key_hex = "4b6579"
  }
}

node "hex" "rendered" {}

node "text_decode" "final" {}

edge {
  from = "plain.output"
  to   = "raw.text"
}

edge {
  from = "raw.output"
  to   = "cipher.data"
}

edge {
  from = "cipher.output"
  to   = "rendered.data"
}

edge {
  from = "rendered.output"
  to   = "final.data"
}
`)
	assert.Equal(t, "bbf316e8d940af0ad3", textOutcome(t, rep, names, "final"))
}

func TestFailurePropagatesThroughPipeline(t *testing.T) {
	rep, names := harness(t, `
node "text_input" "garbage" {
  config {
    text = "not base64 at all!"
  }
}

node "text_encode" "raw" {}

node "base64" "decoder" {
  config {
    mode = "decode"
  }
}

node "md5" "checksum" {}

edge {
  from = "garbage.output"
  to   = "raw.text"
}

edge {
  from = "raw.output"
  to   = "decoder.data"
}

edge {
  from = "decoder.output"
  to   = "checksum.data"
}
`)
	out, _ := rep.Outcome(names["decoder"])
	assert.Equal(t, report.Failed, out.Status)
	assert.Contains(t, out.Error, "invalid base64")

	out, _ = rep.Outcome(names["checksum"])
	assert.Equal(t, report.Skipped, out.Status)
	assert.Equal(t, report.UpstreamFailed, out.Reason)

	// Earlier stages are unaffected by the downstream failure.
	out, _ = rep.Outcome(names["raw"])
	assert.Equal(t, report.Succeeded, out.Status)
}

func TestTypeMismatchRejectedAtBuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
node "text_input" "greeting" {
  config {
    text = "Hello"
  }
}

node "reverse_bytes" "flipped" {}

edge {
  from = "greeting.output"
  to   = "flipped.data"
}
`), 0o600))

	a, err := app.NewApp(io.Discard, &app.Config{
		PipelinePath: path,
		LogLevel:     "error",
		LogFormat:    "text",
	})
	require.NoError(t, err)

	_, _, err = pipeline.LoadAndBuild(context.Background(), a.Registry(), path)
	assert.ErrorIs(t, err, dag.ErrPortTypeMismatch)
}

func TestAppRun(t *testing.T) {
	writeAndRun := func(t *testing.T, pipelineHCL string) error {
		t.Helper()
		path := filepath.Join(t.TempDir(), "pipeline.hcl")
		require.NoError(t, os.WriteFile(path, []byte(pipelineHCL), 0o600))

		cfg := &app.Config{
			PipelinePath: path,
			LogLevel:     "error",
			LogFormat:    "text",
			WorkerCount:  2,
		}
		a, err := app.NewApp(io.Discard, cfg)
		require.NoError(t, err)
		return a.Run(context.Background(), cfg)
	}

	t.Run("healthy pipeline succeeds", func(t *testing.T) {
		err := writeAndRun(t, `
node "text_input" "greeting" {
  config {
    text = "hi"
  }
}

node "output" "sink" {}

edge {
  from = "greeting.output"
  to   = "sink.input"
}
`)
		assert.NoError(t, err)
	})

	t.Run("failing node fails the run", func(t *testing.T) {
		err := writeAndRun(t, `
node "hex_input" "bad" {
  config {
    hex = "zz"
  }
}
`)
		assert.ErrorContains(t, err, "failed node(s)")
	})

	t.Run("missing file fails the run", func(t *testing.T) {
		cfg := &app.Config{PipelinePath: "/nonexistent.hcl", LogLevel: "error", LogFormat: "text"}
		a, err := app.NewApp(io.Discard, cfg)
		require.NoError(t, err)
		err = a.Run(context.Background(), cfg)
		assert.ErrorContains(t, err, "failed to build pipeline")
	})
}
