package crypto

import (
	bls "github.com/cloudflare/circl/sign/bls"
)

type scheme = bls.KeyG1SigG2

type BLSPubKey = bls.PublicKey[scheme]

// BLSSigner produces signature shares over vote digests. The ECDSA signature
// stays authoritative for signer identity; BLS shares exist so that the votes
// backing a justified checkpoint compress into one aggregate signature.
type BLSSigner struct {
	sk *bls.PrivateKey[scheme]
	pk *BLSPubKey
}

func NewBLSSignerFromSeed(seed []byte) *BLSSigner {
	sk, _ := bls.KeyGen[scheme](seed, nil, nil)
	pk := sk.PublicKey()
	return &BLSSigner{sk: sk, pk: pk}
}

func (s *BLSSigner) Pubkey() *BLSPubKey { return s.pk }

func (s *BLSSigner) Sign(msg []byte) []byte {
	return bls.Sign(s.sk, msg)
}

func BLSVerify(pk *BLSPubKey, sigBytes, msg []byte) bool {
	return bls.Verify(pk, msg, bls.Signature(sigBytes))
}

// BLSAggregate combines signature shares over the same message.
func BLSAggregate(sigBytesList [][]byte) []byte {
	sigs := make([]bls.Signature, 0, len(sigBytesList))
	for _, sb := range sigBytesList {
		if len(sb) == 0 {
			continue
		}
		sigs = append(sigs, bls.Signature(sb))
	}
	agg, err := bls.Aggregate(bls.G1{}, sigs)
	if err != nil {
		return nil
	}
	return agg
}

func BLSVerifyAggregateSameMsg(pks []*BLSPubKey, msg []byte, aggSig []byte) bool {
	return bls.VerifyAggregate(pks, [][]byte{msg}, bls.Signature(aggSig))
}
