// kbinxml converts documents between XML text and KBin binary form.
//
// Usage:
//
//	kbinxml encode [flags] [file]
//	kbinxml decode [flags] [file]
//
// The input is read from file, or from stdin when file is absent or "-".
// Encode options come from --compression and --encoding, or from a YAML
// options file given with --options; flags take precedence over the file.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/twinfer/kbinxml-plugin/pkg/kbinxml"
)

const (
	exitConversion = 1
	exitUsage      = 2
)

// usageError marks mistakes in the command line itself.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var usage *usageError
	if errors.As(err, &usage) {
		return exitUsage
	}
	return exitConversion
}

type cliFlags struct {
	compression bool
	encoding    string
	optionsFile string
	pretty      bool
	envelope    string
	output      string
	logLevel    string
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var f cliFlags
	flagSet := pflag.NewFlagSet("kbinxml", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.BoolVar(&f.compression, "compression", false, "pack node names (encode only)")
	flagSet.StringVar(&f.encoding, "encoding", "", "output encoding tag, decimal or 0x hex (encode only; default: the document's declared encoding)")
	flagSet.StringVar(&f.optionsFile, "options", "", "YAML file with compression and encoding options (encode only)")
	flagSet.BoolVar(&f.pretty, "pretty", false, "keep indented XML (decode only)")
	flagSet.StringVar(&f.envelope, "envelope", "raw", "output form: raw, json or cbor")
	flagSet.StringVarP(&f.output, "output", "o", "", "write output to this file instead of stdout")
	flagSet.StringVar(&f.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stderr, flagSet)
			return nil
		}
		return &usageError{err: err}
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stderr, flagSet)
		return nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(f.logLevel)); err != nil {
		return usagef("invalid --log-level %q", f.logLevel)
	}
	kbinxml.SetupDiagnostics(level)
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	positional := flagSet.Args()
	if len(positional) == 0 {
		return usagef("missing command: encode or decode")
	}
	if len(positional) > 2 {
		return usagef("unexpected argument: %s", positional[2])
	}
	command := positional[0]
	inputPath := "-"
	if len(positional) == 2 {
		inputPath = positional[1]
	}

	var envelope kbinxml.EnvelopeFormat
	if f.envelope != "raw" {
		var err error
		if envelope, err = kbinxml.ParseEnvelopeFormat(f.envelope); err != nil {
			return usagef("invalid --envelope: %v", err)
		}
	}

	converter := kbinxml.NewConverter(kbinxml.WithLogger(logger))
	ctx := context.Background()

	var (
		result  kbinxml.Envelope
		payload []byte
	)
	switch command {
	case "encode":
		if flagSet.Changed("pretty") {
			return usagef("--pretty applies to decode only")
		}
		req, err := encodeRequest(flagSet, f)
		if err != nil {
			return err
		}
		input, err := readInput(inputPath, stdin)
		if err != nil {
			return err
		}
		res, err := converter.Encode(ctx, input, req)
		if err != nil {
			return err
		}
		result, payload = res, res.Data

	case "decode":
		for _, name := range []string{"compression", "encoding", "options"} {
			if flagSet.Changed(name) {
				return usagef("--%s applies to encode only; binary documents record their own encoding", name)
			}
		}
		input, err := readInput(inputPath, stdin)
		if err != nil {
			return err
		}
		res, err := converter.Decode(ctx, input, f.pretty)
		if err != nil {
			return err
		}
		result, payload = res, []byte(res.Data)

	default:
		return usagef("unknown command %q: want encode or decode", command)
	}

	if envelope != 0 {
		out, err := kbinxml.MarshalEnvelope(result, envelope)
		if err != nil {
			return err
		}
		payload = out
	}
	return writeOutput(f.output, stdout, payload)
}

// encodeRequest merges the options file with the command-line flags into
// an untyped options object and validates it.
func encodeRequest(flagSet *pflag.FlagSet, f cliFlags) (*kbinxml.ConversionRequest, error) {
	values := map[string]any{}

	if f.optionsFile != "" {
		data, err := os.ReadFile(f.optionsFile)
		if err != nil {
			return nil, usagef("failed to read options file: %v", err)
		}
		var fileValue any
		if err := yaml.Unmarshal(data, &fileValue); err != nil {
			return nil, kbinxml.Translate(kbinxml.InvalidOption, fmt.Errorf("options file %s: %w", f.optionsFile, err))
		}
		if fileValue != nil {
			m, ok := fileValue.(map[string]any)
			if !ok {
				return nil, kbinxml.Translate(kbinxml.InvalidOption, fmt.Errorf("options file %s must hold a mapping, got %T", f.optionsFile, fileValue))
			}
			for k, v := range m {
				values[k] = v
			}
		}
	}

	if flagSet.Changed("compression") {
		values["compression"] = f.compression
	}
	if flagSet.Changed("encoding") {
		tag, err := parseEncodingFlag(f.encoding)
		if err != nil {
			return nil, kbinxml.Translate(kbinxml.InvalidOption, err)
		}
		values["encoding"] = tag
	}

	return kbinxml.RequestFromValue(values)
}

func parseEncodingFlag(s string) (int64, error) {
	s = strings.TrimSpace(s)
	base := 10
	digits := s
	if strings.HasPrefix(strings.ToLower(s), "0x") {
		base = 16
		digits = s[2:]
	}
	v, err := strconv.ParseInt(digits, base, 64)
	if err != nil {
		return 0, fmt.Errorf("--encoding %q is not a number", s)
	}
	return v, nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, usagef("failed to read input: %v", err)
	}
	return data, nil
}

func writeOutput(path string, stdout io.Writer, data []byte) error {
	if path == "" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprint(w, `kbinxml converts documents between XML text and KBin binary form.

Usage:
  kbinxml encode [flags] [file]
  kbinxml decode [flags] [file]

Encoding tags: 0 none, 32 ASCII, 64 ISO-8859-1, 96 EUC-JP, 128 Shift-JIS,
160 UTF-8. Without --encoding, encode uses the encoding named by the
document's XML declaration.

Examples:
  # Encode with name packing as Shift-JIS
  kbinxml encode --compression --encoding 0x80 config.xml -o config.bin

  # Decode to indented XML
  kbinxml decode --pretty config.bin

Flags:
`)
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}
