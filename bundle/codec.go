// Package bundle encodes job.Data for storage by a task runner.
package bundle

import (
	"fmt"

	jobmanager "github.com/ericzhng/jobmanager"
	"github.com/ericzhng/jobmanager/job"
)

// MaxSize is the largest encoded bundle accepted, in bytes.
const MaxSize = 10 * 1024

// Codec defines the serialization contract for job bundles.
type Codec interface {
	// Encode serializes a bundle to bytes.
	Encode(d job.Data) ([]byte, error)

	// Decode deserializes bytes into a bundle.
	Decode(data []byte) (job.Data, error)

	// Name returns the codec identifier ("json", "msgpack").
	Name() string
}

// Codec names.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// GetCodec returns a codec by name. Defaults to JSON.
func GetCodec(name string) Codec {
	switch name {
	case CodecNameMsgpack:
		return Msgpack{}
	default:
		return JSON{}
	}
}

// Encode encodes d with c and rejects results larger than MaxSize.
func Encode(c Codec, d job.Data) ([]byte, error) {
	b, err := c.Encode(d)
	if err != nil {
		return nil, fmt.Errorf("bundle: encode %s: %w", c.Name(), err)
	}
	if len(b) > MaxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", jobmanager.ErrBundleTooLarge, len(b), MaxSize)
	}
	return b, nil
}
