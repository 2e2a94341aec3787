package scheme

import (
	"encoding/json"
	"fmt"

	"github.com/ChristianMct/ecd/errs"
	"google.golang.org/protobuf/encoding/protowire"
)

// PublicMaterial is the key material a remote compute boundary needs to
// evaluate on ciphertexts of a Context. It never holds the secret key.
type PublicMaterial struct {
	Config             Config `json:"config"`
	PublicKey          []byte `json:"public_key"`
	RelinearizationKey []byte `json:"relinearization_key,omitempty"`
}

const (
	pmFieldConfig protowire.Number = 1
	pmFieldPK     protowire.Number = 2
	pmFieldRLK    protowire.Number = 3
)

// Fingerprint returns the fingerprint of the contexts built from this material.
func (pm PublicMaterial) Fingerprint() (Fingerprint, error) {
	return fingerprint(pm.Config, pm.PublicKey)
}

// MarshalBinary encodes the material in protobuf wire format.
func (pm PublicMaterial) MarshalBinary() ([]byte, error) {
	conf, err := json.Marshal(pm.Config)
	if err != nil {
		return nil, err
	}
	var b []byte
	b = protowire.AppendTag(b, pmFieldConfig, protowire.BytesType)
	b = protowire.AppendBytes(b, conf)
	b = protowire.AppendTag(b, pmFieldPK, protowire.BytesType)
	b = protowire.AppendBytes(b, pm.PublicKey)
	if len(pm.RelinearizationKey) > 0 {
		b = protowire.AppendTag(b, pmFieldRLK, protowire.BytesType)
		b = protowire.AppendBytes(b, pm.RelinearizationKey)
	}
	return b, nil
}

// UnmarshalBinary decodes material encoded by MarshalBinary.
func (pm *PublicMaterial) UnmarshalBinary(b []byte) error {
	*pm = PublicMaterial{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: invalid public material: %w", errs.CorruptArtifact, protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: invalid public material: %w", errs.CorruptArtifact, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return fmt.Errorf("%w: invalid public material: %w", errs.CorruptArtifact, protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case pmFieldConfig:
			if err := json.Unmarshal(v, &pm.Config); err != nil {
				return fmt.Errorf("%w: invalid public material config: %w", errs.CorruptArtifact, err)
			}
		case pmFieldPK:
			pm.PublicKey = append([]byte(nil), v...)
		case pmFieldRLK:
			pm.RelinearizationKey = append([]byte(nil), v...)
		}
	}
	return nil
}
