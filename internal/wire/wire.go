// Package wire encodes boundary exchange messages for transport between
// processes.
//
// Format: 1 byte version + 1 byte number kind + snappy(JSON message)
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"

	ferrors "github.com/facetd/facetd/internal/errors"
	"github.com/facetd/facetd/internal/facet"
	"github.com/facetd/facetd/internal/router"
	"github.com/facetd/facetd/pkg/types"
)

const (
	version    byte = 1
	headerSize      = 2
)

func kindByte[T facet.Number]() byte {
	if facet.OpsFor[T]().Kind() == types.KindInteger {
		return 'i'
	}
	return 'f'
}

func encode[T facet.Number](msg interface{}) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wire: failed to marshal message: %w", err)
	}
	out := make([]byte, headerSize, headerSize+snappy.MaxEncodedLen(len(raw)))
	out[0] = version
	out[1] = kindByte[T]()
	return append(out, snappy.Encode(nil, raw)...), nil
}

func decode[T facet.Number](data []byte, msg interface{}) error {
	if len(data) < headerSize {
		return fmt.Errorf("wire: message too short (%d bytes)", len(data))
	}
	if data[0] != version {
		return ferrors.NewUnsupportedProtocolState(fmt.Sprintf("wire: unsupported version %d", data[0]))
	}
	if data[1] != kindByte[T]() {
		return ferrors.NewTypeMismatch(fmt.Sprintf("wire: message kind %q does not match %q", data[1], kindByte[T]()))
	}
	raw, err := snappy.Decode(nil, data[headerSize:])
	if err != nil {
		return fmt.Errorf("wire: snappy decompress failed: %w", err)
	}
	if err := json.Unmarshal(raw, msg); err != nil {
		return fmt.Errorf("wire: failed to unmarshal message: %w", err)
	}
	return nil
}

// EncodeReports encodes a partition's first-pass publication.
func EncodeReports[T facet.Number](pub router.Publication[T]) ([]byte, error) {
	return encode[T](pub)
}

// DecodeReports decodes a publication written by EncodeReports.
func DecodeReports[T facet.Number](data []byte) (router.Publication[T], error) {
	var pub router.Publication[T]
	err := decode[T](data, &pub)
	return pub, err
}

// EncodeBroadcast encodes the boundaries sent to one partition.
func EncodeBroadcast[T facet.Number](b router.Broadcast[T]) ([]byte, error) {
	return encode[T](b)
}

// DecodeBroadcast decodes a broadcast written by EncodeBroadcast.
func DecodeBroadcast[T facet.Number](data []byte) (router.Broadcast[T], error) {
	var b router.Broadcast[T]
	if err := decode[T](data, &b); err != nil {
		return b, err
	}
	if b.Boundaries == nil {
		b.Boundaries = make(map[string]T)
	}
	return b, nil
}
