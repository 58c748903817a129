package checkpoints

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/tsawler/go-mixtrain/layers"
)

// Binary checkpoints use the protobuf wire format with the following layout:
//
//	message Checkpoint {
//	  Metadata metadata = 1;
//	  TrainingState training_state = 2;
//	  repeated Tensor weights = 3;
//	  OptimizerState optimizer_state = 4;
//	  bytes model_spec_json = 5;
//	  bytes rng_state = 6;
//	}
//	message Metadata {
//	  string version = 1; string framework = 2; string run_id = 3;
//	  string architecture = 4; string method = 5; sint64 seed = 6;
//	  google.protobuf.Timestamp created_at = 7; string description = 8;
//	  repeated string tags = 9;
//	}
//	message TrainingState {
//	  int64 epoch = 1; int64 step = 2; float learning_rate = 3;
//	  float best_loss = 4; float best_accuracy = 5; int64 total_steps = 6;
//	  float accuracy = 7;
//	}
//	message Tensor {
//	  string name = 1; repeated int64 shape = 2 [packed]; repeated float data = 3 [packed];
//	  string layer = 4; string kind = 5;
//	}
//	message OptimizerState {
//	  string type = 1; map<string, double> parameters = 2; repeated Tensor state = 3;
//	}
const (
	fieldMetadata       protowire.Number = 1
	fieldTrainingState  protowire.Number = 2
	fieldWeights        protowire.Number = 3
	fieldOptimizerState protowire.Number = 4
	fieldModelSpec      protowire.Number = 5
	fieldRNGState       protowire.Number = 6
)

func marshalBinary(cp *Checkpoint) ([]byte, error) {
	var b []byte

	meta, err := marshalMetadata(cp.Metadata)
	if err != nil {
		return nil, err
	}
	b = appendMessage(b, fieldMetadata, meta)
	b = appendMessage(b, fieldTrainingState, marshalTrainingState(cp.TrainingState))

	for _, w := range cp.Weights {
		b = appendMessage(b, fieldWeights, marshalTensor(w.Name, w.Shape, w.Data, w.Layer, w.Type))
	}
	if cp.OptimizerState != nil {
		b = appendMessage(b, fieldOptimizerState, marshalOptimizerState(cp.OptimizerState))
	}
	if cp.ModelSpec != nil {
		spec, err := json.Marshal(cp.ModelSpec)
		if err != nil {
			return nil, fmt.Errorf("failed to encode model spec: %v", err)
		}
		b = appendMessage(b, fieldModelSpec, spec)
	}
	if len(cp.RNGState) > 0 {
		b = appendMessage(b, fieldRNGState, cp.RNGState)
	}
	return b, nil
}

func unmarshalBinary(b []byte) (*Checkpoint, error) {
	cp := &Checkpoint{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldMetadata:
			return unmarshalMetadata(v, &cp.Metadata)
		case fieldTrainingState:
			return unmarshalTrainingState(v, &cp.TrainingState)
		case fieldWeights:
			var w WeightTensor
			if err := unmarshalTensor(v, &w.Name, &w.Shape, &w.Data, &w.Layer, &w.Type); err != nil {
				return err
			}
			cp.Weights = append(cp.Weights, w)
		case fieldOptimizerState:
			cp.OptimizerState = &OptimizerState{}
			return unmarshalOptimizerState(v, cp.OptimizerState)
		case fieldModelSpec:
			cp.ModelSpec = &layers.ModelSpec{}
			if err := json.Unmarshal(v, cp.ModelSpec); err != nil {
				return fmt.Errorf("failed to decode model spec: %v", err)
			}
		case fieldRNGState:
			cp.RNGState = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

func marshalMetadata(m CheckpointMetadata) ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Version)
	b = appendString(b, 2, m.Framework)
	b = appendString(b, 3, m.RunID)
	b = appendString(b, 4, m.Architecture)
	b = appendString(b, 5, m.Method)
	b = protowire.AppendTag(b, 6, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(m.Seed))
	if !m.CreatedAt.IsZero() {
		ts, err := proto.Marshal(timestamppb.New(m.CreatedAt))
		if err != nil {
			return nil, fmt.Errorf("failed to encode timestamp: %v", err)
		}
		b = appendMessage(b, 7, ts)
	}
	b = appendString(b, 8, m.Description)
	for _, tag := range m.Tags {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendString(b, tag)
	}
	return b, nil
}

func unmarshalMetadata(b []byte, m *CheckpointMetadata) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			m.Version = string(v)
		case 2:
			m.Framework = string(v)
		case 3:
			m.RunID = string(v)
		case 4:
			m.Architecture = string(v)
		case 5:
			m.Method = string(v)
		case 6:
			x, err := varint(v)
			if err != nil {
				return err
			}
			m.Seed = protowire.DecodeZigZag(x)
		case 7:
			var ts timestamppb.Timestamp
			if err := proto.Unmarshal(v, &ts); err != nil {
				return fmt.Errorf("failed to decode timestamp: %v", err)
			}
			m.CreatedAt = ts.AsTime()
		case 8:
			m.Description = string(v)
		case 9:
			m.Tags = append(m.Tags, string(v))
		}
		return nil
	})
}

func marshalTrainingState(s TrainingState) []byte {
	var b []byte
	b = appendInt(b, 1, int64(s.Epoch))
	b = appendInt(b, 2, int64(s.Step))
	b = appendFloat(b, 3, s.LearningRate)
	b = appendFloat(b, 4, s.BestLoss)
	b = appendFloat(b, 5, s.BestAccuracy)
	b = appendInt(b, 6, int64(s.TotalSteps))
	b = appendFloat(b, 7, s.Accuracy)
	b = appendDouble(b, 8, s.BestAccuracyExact)
	return b
}

func unmarshalTrainingState(b []byte, s *TrainingState) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1, 2, 6:
			x, err := varint(v)
			if err != nil {
				return err
			}
			switch num {
			case 1:
				s.Epoch = int(int64(x))
			case 2:
				s.Step = int(int64(x))
			case 6:
				s.TotalSteps = int(int64(x))
			}
		case 3, 4, 5, 7:
			f, err := fixed32(v)
			if err != nil {
				return err
			}
			switch num {
			case 3:
				s.LearningRate = f
			case 4:
				s.BestLoss = f
			case 5:
				s.BestAccuracy = f
			case 7:
				s.Accuracy = f
			}
		case 8:
			f, err := fixed64(v)
			if err != nil {
				return err
			}
			s.BestAccuracyExact = f
		}
		return nil
	})
}

func marshalTensor(name string, shape []int, data []float32, layer, kind string) []byte {
	var b []byte
	b = appendString(b, 1, name)

	var packedShape []byte
	for _, d := range shape {
		packedShape = protowire.AppendVarint(packedShape, uint64(d))
	}
	b = appendMessage(b, 2, packedShape)

	packedData := make([]byte, 0, 4*len(data))
	for _, v := range data {
		packedData = protowire.AppendFixed32(packedData, math.Float32bits(v))
	}
	b = appendMessage(b, 3, packedData)

	b = appendString(b, 4, layer)
	b = appendString(b, 5, kind)
	return b
}

func unmarshalTensor(b []byte, name *string, shape *[]int, data *[]float32, layer, kind *string) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			*name = string(v)
		case 2:
			for len(v) > 0 {
				x, n := protowire.ConsumeVarint(v)
				if n < 0 {
					return protowire.ParseError(n)
				}
				*shape = append(*shape, int(x))
				v = v[n:]
			}
		case 3:
			if len(v)%4 != 0 {
				return fmt.Errorf("tensor %s: packed data length %d is not a multiple of 4", *name, len(v))
			}
			out := make([]float32, 0, len(v)/4)
			for len(v) > 0 {
				x, n := protowire.ConsumeFixed32(v)
				if n < 0 {
					return protowire.ParseError(n)
				}
				out = append(out, math.Float32frombits(x))
				v = v[n:]
			}
			*data = out
		case 4:
			*layer = string(v)
		case 5:
			*kind = string(v)
		}
		return nil
	})
}

func marshalOptimizerState(s *OptimizerState) []byte {
	var b []byte
	b = appendString(b, 1, s.Type)

	keys := make([]string, 0, len(s.Parameters))
	for k := range s.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var entry []byte
		entry = appendString(entry, 1, k)
		entry = protowire.AppendTag(entry, 2, protowire.Fixed64Type)
		entry = protowire.AppendFixed64(entry, math.Float64bits(s.Parameters[k]))
		b = appendMessage(b, 2, entry)
	}

	for _, t := range s.StateData {
		b = appendMessage(b, 3, marshalTensor(t.Name, t.Shape, t.Data, "", t.StateType))
	}
	return b
}

func unmarshalOptimizerState(b []byte, s *OptimizerState) error {
	s.Parameters = map[string]float64{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			s.Type = string(v)
		case 2:
			var key string
			var value float64
			err := walkFields(v, func(num protowire.Number, typ protowire.Type, v []byte) error {
				switch num {
				case 1:
					key = string(v)
				case 2:
					x, n := protowire.ConsumeFixed64(v)
					if n < 0 {
						return protowire.ParseError(n)
					}
					value = math.Float64frombits(x)
				}
				return nil
			})
			if err != nil {
				return err
			}
			s.Parameters[key] = value
		case 3:
			var t OptimizerTensor
			var layer string
			if err := unmarshalTensor(v, &t.Name, &t.Shape, &t.Data, &layer, &t.StateType); err != nil {
				return err
			}
			s.StateData = append(s.StateData, t)
		}
		return nil
	})
}

// walkFields calls fn for every field in b. Length-delimited values are passed
// without their length prefix; scalar values are passed as their raw encoding.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var v []byte
		if typ == protowire.BytesType {
			v, n = protowire.ConsumeBytes(b)
		} else {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n >= 0 {
				v = b[:n]
			}
		}
		if n < 0 {
			return fmt.Errorf("field %d: %v", num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(num, typ, v); err != nil {
			return err
		}
	}
	return nil
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func varint(v []byte) (uint64, error) {
	x, n := protowire.ConsumeVarint(v)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return x, nil
}

func fixed32(v []byte) (float32, error) {
	x, n := protowire.ConsumeFixed32(v)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return math.Float32frombits(x), nil
}

func fixed64(v []byte) (float64, error) {
	x, n := protowire.ConsumeFixed64(v)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return math.Float64frombits(x), nil
}
