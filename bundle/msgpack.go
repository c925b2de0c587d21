package bundle

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ericzhng/jobmanager/job"
)

// Msgpack encodes bundles as MessagePack maps.
type Msgpack struct{}

// Encode implements Codec.
func (Msgpack) Encode(d job.Data) ([]byte, error) {
	return msgpack.Marshal(d.Map())
}

// Decode implements Codec.
func (Msgpack) Decode(data []byte) (job.Data, error) {
	if len(data) == 0 {
		return job.Data{}, nil
	}
	var m map[string]any
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return job.Data{}, err
	}
	return job.NewData(m), nil
}

// Name implements Codec.
func (Msgpack) Name() string { return CodecNameMsgpack }
