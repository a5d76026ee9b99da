package cmd

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/sandtrace/internal/core"
)

const testSignatures = "../internal/signature/testdata/signatures.yaml"

func header(api uint8, ret, tid, offset uint32) []byte {
	b := make([]byte, 14)
	b[0] = api
	binary.LittleEndian.PutUint32(b[2:], ret)
	binary.LittleEndian.PutUint32(b[6:], tid)
	binary.LittleEndian.PutUint32(b[10:], offset)
	return b
}

func u32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configFile, signaturesFile, decodeInput = "", "", "-"

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestDecodeCommand(t *testing.T) {
	var stream []byte
	stream = append(stream, header(1, 0, 7, 10)...)
	stream = append(stream, u32(1234)...)
	stream = append(stream, header(4, 0, 7, 20)...)
	stream = append(stream, u32(0x10)...)
	stream = append(stream, u32(4)...)
	stream = append(stream, u32(4)...)
	stream = append(stream, "Path"...)
	stream = append(stream, 1, 0)

	path := filepath.Join(t.TempDir(), "stream.bin")
	require.NoError(t, os.WriteFile(path, stream, 0o644))

	out, err := execute(t, "decode", "-f", path, "--signatures", testSignatures)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"kind":"thread"`)
	assert.Contains(t, lines[0], `"pid":1234`)
	assert.Contains(t, lines[1], `"api":"RegSetValueExA"`)
	assert.Contains(t, lines[1], `"value":"Path"`)
}

func TestDecodeCommandTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.bin")
	require.NoError(t, os.WriteFile(path, header(1, 0, 7, 10), 0o644))

	_, err := execute(t, "decode", "-f", path, "--signatures", testSignatures)
	assert.ErrorIs(t, err, core.ErrTruncatedStream)
}

func TestDecodeCommandRequiresSignatures(t *testing.T) {
	_, err := execute(t, "decode", "-f", "stream.bin")
	assert.ErrorContains(t, err, "no signature table configured")
}

func TestAnalyzeCommandMissingCapture(t *testing.T) {
	_, err := execute(t, "analyze", filepath.Join(t.TempDir(), "dump.pcap"))
	assert.ErrorIs(t, err, core.ErrCaptureUnavailable)
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", "--signatures", testSignatures)
	require.NoError(t, err)
	assert.Equal(t, "VALID: configuration, 3 signature(s), listen 0.0.0.0:2042\n", out)
}
