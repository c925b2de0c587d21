package bundle

import (
	"bytes"
	"encoding/json"

	"github.com/ericzhng/jobmanager/job"
)

// JSON encodes bundles as JSON objects. Numbers are decoded as json.Number
// so 64-bit integers survive the round trip.
type JSON struct{}

// Encode implements Codec.
func (JSON) Encode(d job.Data) ([]byte, error) {
	return json.Marshal(d.Map())
}

// Decode implements Codec.
func (JSON) Decode(data []byte) (job.Data, error) {
	if len(data) == 0 {
		return job.Data{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return job.Data{}, err
	}
	return job.NewData(m), nil
}

// Name implements Codec.
func (JSON) Name() string { return CodecNameJSON }
