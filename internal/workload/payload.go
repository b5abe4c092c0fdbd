package workload

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20"
)

// payloadKey seeds every generated payload. Fixed on purpose: two runs with
// the same workload shape must produce byte-identical buffers, regardless of
// which backend executes them.
var payloadKey = [32]byte{
	'i', 'o', 't', 'r', 'i', 'a', 'd', '-',
	'p', 'a', 'y', 'l', 'o', 'a', 'd', '-',
	'k', 'e', 'y', '-', 'v', '1', 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0,
}

// Payload returns the deterministic payload for the given operation ID.
func Payload(id uint64, size int) ([]byte, error) {
	return keystream(id, size)
}

// FeedStream returns the first size bytes of the deterministic stream a
// resource peer feeds to read operations. Resources and operations draw from
// disjoint nonce spaces.
func FeedStream(resourceID uint64, size int) ([]byte, error) {
	return FeedAt(resourceID, 0, size)
}

// FeedAt returns size bytes of a resource's feed stream starting at offset.
// It matches resource.FeedFunc so peers can generate their stream lazily.
func FeedAt(resourceID uint64, offset, size int) ([]byte, error) {
	const blockSize = 64 // chacha20 block

	var nonce [chacha20.NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[:8], 1<<63|resourceID)

	cipher, err := chacha20.NewUnauthenticatedCipher(payloadKey[:], nonce[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create feed cipher: %w", err)
	}
	cipher.SetCounter(uint32(offset / blockSize))

	skip := offset % blockSize
	buf := make([]byte, skip+size)
	cipher.XORKeyStream(buf, buf)
	return buf[skip:], nil
}

func keystream(nonce64 uint64, size int) ([]byte, error) {
	var nonce [chacha20.NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[:8], nonce64)

	cipher, err := chacha20.NewUnauthenticatedCipher(payloadKey[:], nonce[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create payload cipher: %w", err)
	}

	buf := make([]byte, size)
	cipher.XORKeyStream(buf, buf)
	return buf, nil
}
