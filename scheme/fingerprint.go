package scheme

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// FingerprintSize is the size in bytes of a context fingerprint.
const FingerprintSize = blake2b.Size256

// Fingerprint identifies a configuration together with its public key. Artifacts
// carry the fingerprint of the context that produced them.
type Fingerprint [FingerprintSize]byte

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// ParseFingerprint parses the hexadecimal representation of a fingerprint.
func ParseFingerprint(s string) (f Fingerprint, err error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return f, err
	}
	if len(b) != FingerprintSize {
		return f, fmt.Errorf("invalid fingerprint length %d", len(b))
	}
	copy(f[:], b)
	return f, nil
}

func fingerprint(conf Config, publicKey []byte) (Fingerprint, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return Fingerprint{}, err
	}
	var buf [8]byte
	putInt := func(v int) {
		binary.BigEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	putInt(len(conf.Scheme))
	h.Write([]byte(conf.Scheme))
	putInt(conf.PolyModulusDegree)
	putInt(len(conf.CoeffModulusBits))
	for _, b := range conf.CoeffModulusBits {
		putInt(b)
	}
	putInt(conf.ScaleBits)
	putInt(conf.MultiplicativeDepth)
	putInt(len(publicKey))
	h.Write(publicKey)

	var f Fingerprint
	copy(f[:], h.Sum(nil))
	return f, nil
}
