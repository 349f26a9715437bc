package memory

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("memory: cbor encoder: %v", err))
	}
	cborDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("memory: cbor decoder: %v", err))
	}
}

// MarshalStateJSON encodes state in the external JSON wire shape.
func MarshalStateJSON(state MemoryState) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("memory: encode state: %w", err)
	}
	return data, nil
}

// UnmarshalStateJSON decodes a state produced by MarshalStateJSON.
func UnmarshalStateJSON(data []byte) (MemoryState, error) {
	var state MemoryState
	if err := json.Unmarshal(data, &state); err != nil {
		return MemoryState{}, fmt.Errorf("memory: decode state: %w", err)
	}
	return state, nil
}

// MarshalStateCBOR encodes state compactly for storage.
func MarshalStateCBOR(state MemoryState) ([]byte, error) {
	data, err := cborEnc.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("memory: encode state: %w", err)
	}
	return data, nil
}

// UnmarshalStateCBOR decodes a state produced by MarshalStateCBOR.
func UnmarshalStateCBOR(data []byte) (MemoryState, error) {
	var state MemoryState
	if err := cborDec.Unmarshal(data, &state); err != nil {
		return MemoryState{}, fmt.Errorf("memory: decode state: %w", err)
	}
	return state, nil
}
