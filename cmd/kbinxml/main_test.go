package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twinfer/kbinxml-plugin/pkg/kbinxml"
	"github.com/twinfer/kbinxml-plugin/testutil"
)

const sampleXML = `<?xml version="1.0" encoding="SHIFT_JIS"?>
<config>
  <title>設定</title>
  <limit __type="u16">500</limit>
</config>`

func runCLI(t *testing.T, stdin []byte, args ...string) ([]byte, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(args, bytes.NewReader(stdin), &stdout, &stderr)
	return stdout.Bytes(), stderr.String(), err
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestRun_EncodeDecodeStdio(t *testing.T) {
	bin, _, err := runCLI(t, []byte(sampleXML), "encode", "--compression")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(bin), 4)
	assert.Equal(t, []byte{0xA0, 0x42, 0x80, 0x7F}, bin[:4])

	text, _, err := runCLI(t, bin, "decode", "--pretty", "-")
	require.NoError(t, err)
	testutil.AssertXMLEquivalent(t, sampleXML, string(text))

	compact, _, err := runCLI(t, bin, "decode")
	require.NoError(t, err)
	assert.NotContains(t, string(compact), "\n")
}

func TestRun_FilesAndEncodingFlag(t *testing.T) {
	input := writeFile(t, "in.xml", []byte(sampleXML))
	output := filepath.Join(t.TempDir(), "out.bin")

	stdout, _, err := runCLI(t, nil, "encode", "--encoding", "0xA0", input, "-o", output)
	require.NoError(t, err)
	assert.Empty(t, stdout)

	bin, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, byte(0xA0), bin[2])

	res, err := kbinxml.Decode(bin, false)
	require.NoError(t, err)
	assert.Contains(t, res.Data, `encoding="UTF-8"`)
	assert.Contains(t, res.Data, "<title>設定</title>")
}

func TestRun_OptionsFile(t *testing.T) {
	options := writeFile(t, "options.yaml", []byte("compression: true\nencoding: 96\n"))

	bin, _, err := runCLI(t, []byte(sampleXML), "encode", "--options", options)
	require.NoError(t, err)
	assert.Equal(t, byte(0x42), bin[1])
	assert.Equal(t, byte(0x60), bin[2])

	// Flags override the file.
	bin, _, err = runCLI(t, []byte(sampleXML), "encode", "--options", options, "--compression=false", "--encoding", "160")
	require.NoError(t, err)
	assert.Equal(t, byte(0x45), bin[1])
	assert.Equal(t, byte(0xA0), bin[2])
}

func TestRun_Envelopes(t *testing.T) {
	bin, _, err := runCLI(t, []byte(sampleXML), "encode")
	require.NoError(t, err)

	out, _, err := runCLI(t, bin, "decode", "--envelope", "json")
	require.NoError(t, err)
	var env struct {
		Data     string `json:"data"`
		Encoding int    `json:"encoding"`
	}
	require.NoError(t, json.Unmarshal(out, &env))
	assert.Equal(t, 0x80, env.Encoding)
	testutil.AssertXMLEquivalent(t, sampleXML, env.Data)

	out, _, err = runCLI(t, []byte(sampleXML), "encode", "--envelope", "cbor")
	require.NoError(t, err)
	var binEnv struct {
		Data     []byte `cbor:"data"`
		Encoding uint8  `cbor:"encoding"`
	}
	require.NoError(t, cbor.Unmarshal(out, &binEnv))
	assert.Equal(t, bin, binEnv.Data)
	assert.Equal(t, uint8(0x80), binEnv.Encoding)
}

func TestRun_ConversionErrors(t *testing.T) {
	tests := []struct {
		name  string
		stdin []byte
		args  []string
		kind  kbinxml.Kind
	}{
		{"invalid encoding tag", []byte(sampleXML), []string{"encode", "--encoding", "255"}, kbinxml.InvalidEncodingType},
		{"encoding out of range", []byte(sampleXML), []string{"encode", "--encoding", "0x1FF"}, kbinxml.InvalidOption},
		{"encoding not a number", []byte(sampleXML), []string{"encode", "--encoding", "utf8"}, kbinxml.InvalidOption},
		{"malformed xml", []byte("<config>"), []string{"encode"}, kbinxml.InvalidXML},
		{"malformed binary", []byte("not kbin"), []string{"decode"}, kbinxml.InvalidXML},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, _, err := runCLI(t, tt.stdin, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.kind, kbinxml.KindOf(err))
			assert.Equal(t, exitConversion, exitCode(err))
			assert.Empty(t, stdout)
		})
	}
}

func TestRun_OptionsFileErrors(t *testing.T) {
	notMapping := writeFile(t, "list.yaml", []byte("- 1\n- 2\n"))
	_, _, err := runCLI(t, []byte(sampleXML), "encode", "--options", notMapping)
	assert.ErrorIs(t, err, kbinxml.ErrInvalidOption)

	badType := writeFile(t, "bad.yaml", []byte("compression: maybe\n"))
	_, _, err = runCLI(t, []byte(sampleXML), "encode", "--options", badType)
	assert.ErrorIs(t, err, kbinxml.ErrInvalidOption)

	_, _, err = runCLI(t, []byte(sampleXML), "encode", "--options", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, exitUsage, exitCode(err))
}

func TestRun_UsageErrors(t *testing.T) {
	tests := [][]string{
		{},
		{"transcode"},
		{"encode", "a.xml", "b.xml"},
		{"decode", "--encoding", "160"},
		{"decode", "--compression"},
		{"encode", "--pretty"},
		{"encode", "--envelope", "xml"},
		{"encode", "--log-level", "loud"},
		{"encode", "--no-such-flag"},
	}

	for _, args := range tests {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			_, _, err := runCLI(t, []byte(sampleXML), args...)
			require.Error(t, err)
			assert.Equal(t, exitUsage, exitCode(err))
		})
	}
}

func TestRun_Help(t *testing.T) {
	_, stderr, err := runCLI(t, nil, "--help")
	require.NoError(t, err)
	assert.Contains(t, stderr, "kbinxml encode [flags] [file]")
	assert.Contains(t, stderr, "--envelope")
}

func TestParseEncodingFlag(t *testing.T) {
	for in, want := range map[string]int64{"160": 160, "0xA0": 160, "0X80": 128, " 32 ": 32, "0": 0} {
		got, err := parseEncodingFlag(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseEncodingFlag("0xZZ")
	assert.Error(t, err)
}
