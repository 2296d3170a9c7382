package bluesky

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/fxamacker/cbor/v2"
)

// Codec names a payload encoding for (name, document) pairs. Both
// encodings carry a two element array: [name, document].
type Codec string

const (
	CodecJSON Codec = "json"
	CodecCBOR Codec = "cbor"
)

var cborDec cbor.DecMode
var cborEnc cbor.EncMode

func init() {
	var err error
	// any-typed targets must decode to map[string]any, not the CBOR
	// default map[interface{}]interface{}.
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("bluesky: CBOR decoder initialization failed: " + err.Error())
	}
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("bluesky: CBOR encoder initialization failed: " + err.Error())
	}
}

// ParseCodec validates a codec name. The empty string means JSON.
func ParseCodec(s string) (Codec, error) {
	switch Codec(strings.ToLower(strings.TrimSpace(s))) {
	case "", CodecJSON:
		return CodecJSON, nil
	case CodecCBOR:
		return CodecCBOR, nil
	}
	return "", fmt.Errorf("unsupported codec %q: expected json or cbor", s)
}

// Decode parses one [name, document] payload.
func Decode(c Codec, payload []byte) (string, Document, error) {
	var pair []any
	var err error
	switch c {
	case CodecJSON, "":
		err = sonic.Unmarshal(payload, &pair)
	case CodecCBOR:
		err = cborDec.Unmarshal(payload, &pair)
	default:
		return "", nil, fmt.Errorf("unsupported codec %q", c)
	}
	if err != nil {
		return "", nil, fmt.Errorf("decode %s payload: %w", c, err)
	}
	if len(pair) != 2 {
		return "", nil, fmt.Errorf("decode %s payload: expected [name, document], got %d elements", c, len(pair))
	}
	name, ok := pair[0].(string)
	if !ok {
		return "", nil, fmt.Errorf("decode %s payload: document name is %T, not a string", c, pair[0])
	}
	doc := asDocument(pair[1])
	if doc == nil {
		return "", nil, fmt.Errorf("decode %s payload: %q document is %T, not a mapping", c, name, pair[1])
	}
	return name, doc, nil
}

// Encode produces a [name, document] payload.
func Encode(c Codec, name string, doc Document) ([]byte, error) {
	pair := []any{name, map[string]any(doc)}
	switch c {
	case CodecJSON, "":
		return sonic.Marshal(pair)
	case CodecCBOR:
		return cborEnc.Marshal(pair)
	}
	return nil, fmt.Errorf("unsupported codec %q", c)
}
