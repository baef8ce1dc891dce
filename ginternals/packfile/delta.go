package packfile

import (
	"encoding/binary"
	"errors"

	"golang.org/x/xerrors"
)

var (
	// ErrDeltaInvalid is an error thrown when a delta cannot be
	// applied to its base object
	ErrDeltaInvalid = errors.New("invalid delta")

	// ErrDeltaBaseMissing is an error thrown when the base object
	// of a delta cannot be found
	ErrDeltaBaseMissing = errors.New("delta base object missing")
)

// ApplyDelta reconstructs an object by running a delta instruction
// stream against the content of its base object.
//
// The format of a delta is:
// - A header with:
//   - The size of the source (variable size, MSB encoded)
//   - The size of the target (variable size, MSB encoded)
// - A set of instructions, either:
//   - COPY (MSB set): the low 7 bits select which of 4 offset bytes
//     and 3 size bytes follow; copies base[offset:offset+size] to
//     the output. A size of 0 means 0x10000.
//   - INSERT (MSB unset): the low 7 bits contain the amount of bytes
//     to copy from the delta stream to the output
func ApplyDelta(base, delta []byte) ([]byte, error) {
	sourceSize, sourceSizeLen, err := readSize(delta)
	if err != nil {
		return nil, xerrors.Errorf("couldn't read source size of delta: %w", err)
	}
	if int(sourceSize) != len(base) {
		return nil, xerrors.Errorf("invalid base object size. expected %d, got %d: %w", len(base), sourceSize, ErrDeltaInvalid)
	}
	targetSize, targetSizeLen, err := readSize(delta[sourceSizeLen:])
	if err != nil {
		return nil, xerrors.Errorf("couldn't read target size of delta: %w", err)
	}
	instructions := delta[sourceSizeLen+targetSizeLen:]

	// We loop over all instructions.
	// We don't do a for-range loop because an instruction can be over
	// multiple bytes
	out := make([]byte, 0, targetSize)
	for i := 0; i < len(instructions); i++ {
		instr := instructions[i]

		switch isMSBSet(instr) {
		case true: // COPY
			// the last 4 bits of the byte contains information about
			// how many bytes to read to get the offset.
			// Example: if the last 4 bits are 1010, we need to read
			// 2 bytes (count the 1s), to be placed at the index of
			// their respective bit: [0, first_byte, 0, second_byte]
			offsetInfo := uint(instr & 0b_0000_1111)
			offsetBytes := make([]byte, 4)
			byteRead := 0
			for j := uint(0); j < 4; j++ {
				if (offsetInfo >> j & 1) == 1 {
					if i+1+byteRead >= len(instructions) {
						return nil, xerrors.Errorf("truncated copy offset: %w", ErrDeltaInvalid)
					}
					offsetBytes[j] = instructions[i+1+byteRead]
					byteRead++
				}
			}
			offset := binary.LittleEndian.Uint32(offsetBytes)
			i += byteRead

			// the next 3 bits of the byte after the MSB contains
			// information about how many bytes to read to get the size
			// of the copy (ie. how many bytes we're copying)
			copyLenInfo := uint((instr & 0b_0111_0000) >> 4)
			copyLenBytes := make([]byte, 4)
			byteRead = 0
			for j := uint(0); j < 3; j++ {
				if (copyLenInfo >> j & 1) == 1 {
					if i+1+byteRead >= len(instructions) {
						return nil, xerrors.Errorf("truncated copy size: %w", ErrDeltaInvalid)
					}
					copyLenBytes[j] = instructions[i+1+byteRead]
					byteRead++
				}
			}
			copyLen := binary.LittleEndian.Uint32(copyLenBytes)
			i += byteRead

			// a size of 0 is how the format encodes 0x10000, since
			// copying nothing would be pointless
			if copyLen == 0 {
				copyLen = 0x10000
			}

			if uint64(offset)+uint64(copyLen) > uint64(len(base)) {
				return nil, xerrors.Errorf("copy of %d bytes at offset %d is out of the base object: %w", copyLen, offset, ErrDeltaInvalid)
			}
			out = append(out, base[offset:offset+copyLen]...)
		case false: // INSERT
			// $instr contains the amount of bytes we need to copy from
			// the delta to the output
			if instr == 0 {
				return nil, xerrors.Errorf("insert of 0 bytes: %w", ErrDeltaInvalid)
			}
			start := i + 1
			end := start + int(instr)
			if end > len(instructions) {
				return nil, xerrors.Errorf("truncated insert of %d bytes: %w", instr, ErrDeltaInvalid)
			}
			out = append(out, instructions[start:end]...)
			i += int(instr)
		}
	}

	if uint64(len(out)) != targetSize {
		return nil, xerrors.Errorf("expected a target of %d bytes, got %d: %w", targetSize, len(out), ErrDeltaInvalid)
	}
	return out, nil
}
