package network

import (
	"encoding/gob"
	"fmt"
)

// EncodeGob writes a network's architecture and weights to enc
func EncodeGob(enc *gob.Encoder, n NeuralNet) error {
	mlp, ok := n.(*multiHeadMLP)
	if !ok {
		return fmt.Errorf("encodegob: cannot encode network of type %T", n)
	}
	return enc.Encode(mlp)
}

// DecodeGob reads a network written by EncodeGob from dec
func DecodeGob(dec *gob.Decoder) (NeuralNet, error) {
	mlp := &multiHeadMLP{}
	if err := dec.Decode(mlp); err != nil {
		return nil, fmt.Errorf("decodegob: %v", err)
	}
	return mlp, nil
}
