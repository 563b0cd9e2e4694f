package search

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/GUI0609/rdkit/internal/domain/molecule"
	"github.com/GUI0609/rdkit/pkg/errors"
)

// EncodeMolPkl serializes m the way the molpkl column stores it: a V2000
// molblock, zlib-compressed when zipped is set.
func EncodeMolPkl(m *molecule.Molecule, zipped bool) ([]byte, error) {
	block := []byte(molecule.WriteMolBlock(m))
	if !zipped {
		return block, nil
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(block); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "compress molecule")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "compress molecule")
	}
	return buf.Bytes(), nil
}

// DecodeMolPkl parses a molpkl column value.
func DecodeMolPkl(data []byte, zipped bool) (*molecule.Molecule, error) {
	if len(data) == 0 {
		return nil, errors.Degraded("molecule blob is empty")
	}
	if zipped {
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDegradedInput, "decompress molecule")
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDegradedInput, "decompress molecule")
		}
	}
	m, err := molecule.ParseMolBlock(string(data))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDegradedInput, "parse molecule blob")
	}
	return m, nil
}
