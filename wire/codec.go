package wire

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrFrameTooLarge is returned by Decode/Encode when a frame's encoded or
// payload size exceeds the configured maxMsgSize.
var ErrFrameTooLarge = errors.New("wire: frame exceeds max message size")

// ErrInvalidKind is returned by Decode when the frame carries an unknown kind.
var ErrInvalidKind = errors.New("wire: invalid frame kind")

// wireFrame is the CBOR-on-the-wire shape. Fields are keyed by small integers
// (cbor keyasint) rather than names, keeping the envelope compact.
type wireFrame struct {
	Kind      Kind   `cbor:"0,keyasint"`
	RequestID uint64 `cbor:"1,keyasint"`
	Payload   []byte `cbor:"2,keyasint,omitempty"`
}

var encMode = func() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: building cbor enc mode: %v", err))
	}
	return m
}()

var decMode = func() cbor.DecMode {
	opts := cbor.DecOptions{MaxArrayElements: 1 << 20, MaxMapPairs: 16}
	m, err := opts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: building cbor dec mode: %v", err))
	}
	return m
}()

// Encode serializes f into its wire representation. maxMsgSize of 0 disables
// the size check.
func Encode(f Frame, maxMsgSize int) ([]byte, error) {
	if maxMsgSize > 0 && len(f.Payload) > maxMsgSize {
		return nil, ErrFrameTooLarge
	}
	out, err := encMode.Marshal(wireFrame{Kind: f.Kind, RequestID: f.RequestID, Payload: f.Payload})
	if err != nil {
		return nil, fmt.Errorf("wire: encode frame: %w", err)
	}
	if maxMsgSize > 0 && len(out) > maxMsgSize {
		return nil, ErrFrameTooLarge
	}
	return out, nil
}

// Decode parses data into a Frame. maxMsgSize of 0 disables the size check.
func Decode(data []byte, maxMsgSize int) (Frame, error) {
	if maxMsgSize > 0 && len(data) > maxMsgSize {
		return Frame{}, ErrFrameTooLarge
	}
	var wf wireFrame
	if err := decMode.Unmarshal(data, &wf); err != nil {
		return Frame{}, fmt.Errorf("wire: decode frame: %w", err)
	}
	if !ValidKind(wf.Kind) {
		return Frame{}, ErrInvalidKind
	}
	return Frame{Kind: wf.Kind, RequestID: wf.RequestID, Payload: wf.Payload}, nil
}
