package media

import (
	"encoding/binary"
	"errors"
)

const (
	NALTypeSlice = 1
	NALTypeIDR   = 5
	NALTypeSEI   = 6
	NALTypeSPS   = 7
	NALTypePPS   = 8
	NALTypeAUD   = 9
)

var ErrTruncatedNAL = errors.New("truncated NAL unit")

func NALType(nal []byte) byte {
	if len(nal) == 0 {
		return 0
	}
	return nal[0] & 0x1F
}

func IsSliceNAL(t byte) bool {
	return t == NALTypeSlice || t == NALTypeIDR
}

// SplitAVCC splits a buffer of 4-byte big-endian length-prefixed NAL units.
func SplitAVCC(b []byte) ([][]byte, error) {
	var nals [][]byte
	for len(b) > 0 {
		if len(b) < 4 {
			return nals, ErrTruncatedNAL
		}
		n := int(binary.BigEndian.Uint32(b))
		b = b[4:]
		if n > len(b) {
			return nals, ErrTruncatedNAL
		}
		if n > 0 {
			nals = append(nals, b[:n])
		}
		b = b[n:]
	}
	return nals, nil
}

func JoinAVCC(nals [][]byte) []byte {
	size := 0
	for _, nal := range nals {
		size += 4 + len(nal)
	}
	out := make([]byte, 0, size)
	var prefix [4]byte
	for _, nal := range nals {
		binary.BigEndian.PutUint32(prefix[:], uint32(len(nal)))
		out = append(out, prefix[:]...)
		out = append(out, nal...)
	}
	return out
}

// SplitAnnexB splits a byte stream on 3 or 4 byte start codes.
func SplitAnnexB(b []byte) [][]byte {
	var nals [][]byte
	start := -1
	i := 0
	for i+2 < len(b) {
		if b[i] == 0 && b[i+1] == 0 && b[i+2] == 1 {
			if start >= 0 {
				end := i
				if end > start && b[end-1] == 0 {
					end--
				}
				if end > start {
					nals = append(nals, b[start:end])
				}
			}
			i += 3
			start = i
			continue
		}
		i++
	}
	if start >= 0 && start < len(b) {
		nals = append(nals, b[start:])
	}
	return nals
}

func AnnexBToAVCC(b []byte) []byte {
	return JoinAVCC(SplitAnnexB(b))
}

func AVCCToAnnexB(b []byte) ([]byte, error) {
	nals, err := SplitAVCC(b)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(b))
	for _, nal := range nals {
		out = append(out, 0, 0, 0, 1)
		out = append(out, nal...)
	}
	return out, nil
}
