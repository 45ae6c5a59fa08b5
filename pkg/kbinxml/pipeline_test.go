package kbinxml

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twinfer/kbinxml-plugin/format"
	"github.com/twinfer/kbinxml-plugin/pkg/kbin"
	"github.com/twinfer/kbinxml-plugin/testutil"
)

// stubCodec records calls and delegates to optional hooks. Unset hooks
// succeed with a one-node tree.
type stubCodec struct {
	mu              sync.Mutex
	calls           []string
	parseText       func([]byte) (*kbin.Tree, format.EncodingType, error)
	parseBinary     func([]byte) (*kbin.Tree, format.EncodingType, error)
	serializeBinary func(kbin.Options, *kbin.Tree) ([]byte, error)
	serializeText   func(*kbin.Tree) ([]byte, error)
}

func (s *stubCodec) record(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
}

func (s *stubCodec) ParseText(data []byte) (*kbin.Tree, format.EncodingType, error) {
	s.record("ParseText")
	if s.parseText != nil {
		return s.parseText(data)
	}
	return &kbin.Tree{Root: kbin.NewNode("root")}, format.EncodingNone, nil
}

func (s *stubCodec) ParseBinary(data []byte) (*kbin.Tree, format.EncodingType, error) {
	s.record("ParseBinary")
	if s.parseBinary != nil {
		return s.parseBinary(data)
	}
	return &kbin.Tree{Root: kbin.NewNode("root")}, format.EncodingNone, nil
}

func (s *stubCodec) SerializeBinary(opts kbin.Options, tree *kbin.Tree) ([]byte, error) {
	s.record("SerializeBinary")
	if s.serializeBinary != nil {
		return s.serializeBinary(opts, tree)
	}
	return []byte{0xA0}, nil
}

func (s *stubCodec) SerializeText(tree *kbin.Tree) ([]byte, error) {
	s.record("SerializeText")
	if s.serializeText != nil {
		return s.serializeText(tree)
	}
	return []byte("<root/>"), nil
}

func TestEncodeDecode_MinimalDocument(t *testing.T) {
	bin, err := Encode([]byte("<root><child>42</child></root>"), nil)
	require.NoError(t, err)
	assert.Equal(t, format.EncodingNone, bin.Encoding)
	assert.Equal(t, byte(0x45), bin.Data[1], "uncompressed by default")

	text, err := Decode(bin.Data, false)
	require.NoError(t, err)
	assert.Equal(t, "<root><child>42</child></root>", text.Data)
	assert.Equal(t, format.EncodingNone, text.Encoding)

	pretty, err := Decode(bin.Data, true)
	require.NoError(t, err)
	assert.Equal(t, "<root>\n  <child>42</child>\n</root>", pretty.Data)
}

func TestEncodeDecode_WellFormedInputs(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"byte order mark", "\ufeff<root><child>42</child></root>", "<root><child>42</child></root>"},
		{"namespace prefix", `<root xmlns:a="urn:x"><a:b>1</a:b></root>`, `<root xmlns:a="urn:x"><a:b>1</a:b></root>`},
		{"small float", `<root><f __type="float">0.0000001</f></root>`, `<root><f __type="float">0.0000001</f></root>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bin, err := Encode([]byte(tt.doc), nil)
			require.NoError(t, err)
			text, err := Decode(bin.Data, false)
			require.NoError(t, err)
			assert.Equal(t, tt.want, text.Data)
		})
	}
}

func TestDecode_RejectsDeepNesting(t *testing.T) {
	root := kbin.NewNode("a")
	n := root
	for i := 0; i < 4000; i++ {
		n = n.Append(kbin.NewNode("a"))
	}
	bin, err := kbin.ToBinary(kbin.WithEncoding(format.EncodingUTF8), &kbin.Tree{Root: root})
	require.NoError(t, err)

	res, err := Decode(bin, false)
	assert.ErrorIs(t, err, ErrInvalidXML)
	assert.Nil(t, res)

	_, err = Encode([]byte(strings.Repeat("<a>", 4000)+strings.Repeat("</a>", 4000)), nil)
	assert.ErrorIs(t, err, ErrInvalidXML)
}

func TestEncode_VoidWithText(t *testing.T) {
	_, err := Encode([]byte(`<a __type="void">lost</a>`), nil)
	assert.ErrorIs(t, err, ErrInvalidXML)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	doc := `<?xml version="1.0" encoding="SHIFT_JIS"?>
<game version="3">
  <player id="7" team="赤">
    <name>プレイヤー</name>
    <score __type="u32">123456</score>
    <history __type="s8" __count="3">-1 0 1</history>
    <rate __type="double">0.75</rate>
    <host __type="ip4">10.0.0.8</host>
    <token __type="bin" __size="4">deadbeef</token>
    <flag __type="bool">0</flag>
  </player>
  <empty/>
</game>`

	for _, compression := range []bool{false, true} {
		t.Run(format.CompressionFromBool(compression).String(), func(t *testing.T) {
			bin, err := Encode([]byte(doc), &ConversionRequest{Compression: ptr(compression)})
			require.NoError(t, err)

			text, err := Decode(bin.Data, true)
			require.NoError(t, err)
			assert.Equal(t, format.EncodingShiftJIS, text.Encoding)
			testutil.AssertXMLEquivalent(t, doc, text.Data)

			compact, err := Decode(bin.Data, false)
			require.NoError(t, err)
			testutil.AssertXMLEquivalent(t, doc, compact.Data)
			assert.NotContains(t, compact.Data, "\n")
		})
	}
}

func TestEncode_EncodingTieBreak(t *testing.T) {
	declared := []byte(`<?xml version="1.0" encoding="EUC-JP"?><root>値</root>`)
	undeclared := []byte(`<root>value</root>`)

	tests := []struct {
		name string
		doc  []byte
		req  *ConversionRequest
		want format.EncodingType
	}{
		{"declared encoding when none requested", declared, nil, format.EncodingEUCJP},
		{"declared encoding with compression only", declared, &ConversionRequest{Compression: ptr(true)}, format.EncodingEUCJP},
		{"requested encoding overrides declared", declared, &ConversionRequest{Encoding: ptr(uint8(0xA0))}, format.EncodingUTF8},
		{"no declaration falls back to none", undeclared, nil, format.EncodingNone},
		{"requested encoding without declaration", undeclared, &ConversionRequest{Encoding: ptr(uint8(0x20))}, format.EncodingASCII},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Encode(tt.doc, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Encoding)
			assert.Equal(t, tt.want.Byte(), res.Data[2], "header records the output encoding")

			back, err := Decode(res.Data, false)
			require.NoError(t, err)
			assert.Equal(t, tt.want, back.Encoding)
		})
	}
}

func TestEncode_CompressionHonored(t *testing.T) {
	stub := &stubCodec{}
	var got []kbin.Options
	stub.serializeBinary = func(opts kbin.Options, _ *kbin.Tree) ([]byte, error) {
		got = append(got, opts)
		return []byte{0xA0}, nil
	}
	c := NewConverter(WithCodec(stub))
	ctx := context.Background()

	_, err := c.Encode(ctx, []byte("<root/>"), nil)
	require.NoError(t, err)
	_, err = c.Encode(ctx, []byte("<root/>"), &ConversionRequest{Compression: ptr(true)})
	require.NoError(t, err)
	_, err = c.Encode(ctx, []byte("<root/>"), &ConversionRequest{Compression: ptr(false)})
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, format.Uncompressed, got[0].Compression)
	assert.Equal(t, format.Compressed, got[1].Compression)
	assert.Equal(t, format.Uncompressed, got[2].Compression)
}

func TestEncode_InvalidEncodingAbortsBeforeParsing(t *testing.T) {
	stub := &stubCodec{}
	c := NewConverter(WithCodec(stub))

	res, err := c.Encode(context.Background(), []byte("<root/>"), &ConversionRequest{Encoding: ptr(uint8(0xFF))})
	assert.ErrorIs(t, err, ErrInvalidEncodingType)
	assert.Nil(t, res)
	assert.Empty(t, stub.calls)

	// Same through the default converter and real codec.
	res, err = Encode([]byte("<root/>"), &ConversionRequest{Encoding: ptr(uint8(0xFF))})
	assert.ErrorIs(t, err, ErrInvalidEncodingType)
	assert.Nil(t, res)
}

func TestEncode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		req   *ConversionRequest
		want  error
	}{
		{"malformed xml", "<root><child></root>", nil, ErrInvalidXML},
		{"empty input", "", nil, ErrInvalidXML},
		{"bad typed value", `<root __type="u8">256</root>`, nil, ErrInvalidXML},
		{"unencodable under requested encoding", "<root>日本</root>", &ConversionRequest{Encoding: ptr(uint8(0x20))}, ErrToBinary},
		{"name outside sixbit alphabet", "<a-b/>", &ConversionRequest{Compression: ptr(true)}, ErrToBinary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Encode([]byte(tt.input), tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, res)
		})
	}
}

func TestDecode_MalformedBinary(t *testing.T) {
	inputs := map[string][]byte{
		"empty":         nil,
		"xml text":      []byte("<root/>"),
		"header only":   {0xA0, 0x45, 0x00, 0xFF},
		"bad check":     {0xA0, 0x45, 0x00, 0x00, 0, 0, 0, 0},
		"truncated":     {0xA0, 0x42, 0xA0, 0x5F, 0, 0, 0, 8, 1, 4},
		"garbage bytes": bytes.Repeat([]byte{0xFF}, 64),
	}
	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			res, err := Decode(input, false)
			assert.ErrorIs(t, err, ErrInvalidXML)
			assert.Nil(t, res)
		})
	}
}

func TestDecode_InvalidUTF8FromCodec(t *testing.T) {
	// EncodingNone passes string bytes through untouched.
	tree := &kbin.Tree{Root: kbin.NewValueNode("root", kbin.TypeString, "caf\xe9")}
	bin, err := kbin.ToBinary(kbin.WithEncoding(format.EncodingNone), tree)
	require.NoError(t, err)

	res, err := Decode(bin, true)
	assert.ErrorIs(t, err, ErrUTF8)
	assert.Nil(t, res)

	stub := &stubCodec{serializeText: func(*kbin.Tree) ([]byte, error) {
		return []byte("<root>\xff</root>"), nil
	}}
	_, err = NewConverter(WithCodec(stub)).Decode(context.Background(), []byte{0}, false)
	assert.ErrorIs(t, err, ErrUTF8)
	assert.Contains(t, err.Error(), "byte 6")
}

func TestDecode_SerializeTextFailure(t *testing.T) {
	cause := errors.New("node type has no text form")
	stub := &stubCodec{serializeText: func(*kbin.Tree) ([]byte, error) {
		return nil, cause
	}}
	res, err := NewConverter(WithCodec(stub)).Decode(context.Background(), []byte{0}, false)
	assert.ErrorIs(t, err, ErrToXML)
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, res)
	assert.Equal(t, []string{"ParseBinary", "SerializeText"}, stub.calls)
}

func TestConverter_RecoversCodecPanics(t *testing.T) {
	boom := func() { panic("index out of range") }

	tests := []struct {
		name  string
		stub  *stubCodec
		run   func(*Converter) error
		want  error
		calls []string
	}{
		{
			name: "parse text",
			stub: &stubCodec{parseText: func([]byte) (*kbin.Tree, format.EncodingType, error) { boom(); return nil, 0, nil }},
			run: func(c *Converter) error {
				_, err := c.Encode(context.Background(), []byte("<root/>"), nil)
				return err
			},
			want:  ErrInvalidXML,
			calls: []string{"ParseText"},
		},
		{
			name: "serialize binary",
			stub: &stubCodec{serializeBinary: func(kbin.Options, *kbin.Tree) ([]byte, error) { boom(); return nil, nil }},
			run: func(c *Converter) error {
				_, err := c.Encode(context.Background(), []byte("<root/>"), nil)
				return err
			},
			want:  ErrToBinary,
			calls: []string{"ParseText", "SerializeBinary"},
		},
		{
			name: "parse binary",
			stub: &stubCodec{parseBinary: func([]byte) (*kbin.Tree, format.EncodingType, error) { boom(); return nil, 0, nil }},
			run: func(c *Converter) error {
				_, err := c.Decode(context.Background(), []byte{0xA0}, false)
				return err
			},
			want:  ErrInvalidXML,
			calls: []string{"ParseBinary"},
		},
		{
			name: "serialize text",
			stub: &stubCodec{serializeText: func(*kbin.Tree) ([]byte, error) { boom(); return nil, nil }},
			run: func(c *Converter) error {
				_, err := c.Decode(context.Background(), []byte{0xA0}, false)
				return err
			},
			want:  ErrToXML,
			calls: []string{"ParseBinary", "SerializeText"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			require.NotPanics(t, func() {
				err = tt.run(NewConverter(WithCodec(tt.stub)))
			})
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "codec panic: index out of range")
			assert.Equal(t, tt.calls, tt.stub.calls)
		})
	}
}

func TestConverter_FirstFailureShortCircuits(t *testing.T) {
	stub := &stubCodec{parseText: func([]byte) (*kbin.Tree, format.EncodingType, error) {
		return nil, 0, errors.New("unexpected EOF")
	}}
	res, err := NewConverter(WithCodec(stub)).Encode(context.Background(), []byte("<"), nil)
	assert.ErrorIs(t, err, ErrInvalidXML)
	assert.Nil(t, res)
	assert.Equal(t, []string{"ParseText"}, stub.calls)
}

func TestConverter_Deterministic(t *testing.T) {
	doc := []byte(`<root><a __type="u16" __count="2">1 2</a><b>x</b></root>`)
	first, err := Encode(doc, &ConversionRequest{Compression: ptr(true)})
	require.NoError(t, err)
	second, err := Encode(doc, &ConversionRequest{Compression: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestConverter_ConcurrentUse(t *testing.T) {
	c := NewConverter()
	doc := []byte(`<?xml version="1.0" encoding="UTF-8"?><root><n __type="s32">-7</n></root>`)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(compressed bool) {
			defer wg.Done()
			bin, err := c.Encode(context.Background(), doc, &ConversionRequest{Compression: ptr(compressed)})
			if err != nil {
				errs <- err
				return
			}
			text, err := c.Decode(context.Background(), bin.Data, false)
			if err != nil {
				errs <- err
				return
			}
			if text.Data != `<?xml version="1.0" encoding="UTF-8"?><root><n __type="s32">-7</n></root>` {
				errs <- errors.New("unexpected output " + text.Data)
			}
		}(i%2 == 0)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestNewConverter_Logger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	c := NewConverter(WithLogger(logger))
	_, err := c.Encode(context.Background(), []byte("<root/>"), &ConversionRequest{Encoding: ptr(uint8(0x01))})
	require.Error(t, err)
	assert.Contains(t, buf.String(), "Rejected encode options")

	assert.NotNil(t, NewConverter(WithLogger(nil)).logger)
}
