package iceberg

import (
	"encoding/json"
	"fmt"
)

// Codec serializes metadata documents to and from their file form. The
// catalog layer depends on this interface only, so other metadata formats
// can be added behind it.
type Codec interface {
	EncodeTable(meta *TableMetadata) ([]byte, error)
	DecodeTable(data []byte) (*TableMetadata, error)
	EncodeView(meta *ViewMetadata) ([]byte, error)
	DecodeView(data []byte) (*ViewMetadata, error)
}

// JSONCodec implements Codec using the standard Iceberg JSON layout.
type JSONCodec struct{}

// EncodeTable serializes table metadata as indented JSON.
func (JSONCodec) EncodeTable(meta *TableMetadata) ([]byte, error) {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode table metadata: %w", err)
	}
	return data, nil
}

// DecodeTable parses table metadata JSON.
func (JSONCodec) DecodeTable(data []byte) (*TableMetadata, error) {
	meta := &TableMetadata{}
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, fmt.Errorf("decode table metadata: %w", err)
	}
	return meta, nil
}

// EncodeView serializes view metadata as indented JSON.
func (JSONCodec) EncodeView(meta *ViewMetadata) ([]byte, error) {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode view metadata: %w", err)
	}
	return data, nil
}

// DecodeView parses view metadata JSON.
func (JSONCodec) DecodeView(data []byte) (*ViewMetadata, error) {
	meta := &ViewMetadata{}
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, fmt.Errorf("decode view metadata: %w", err)
	}
	return meta, nil
}
