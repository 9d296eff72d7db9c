package reputation

import (
	"errors"
	"math/big"

	bn256 "github.com/ethereum/go-ethereum/crypto/bn256/cloudflare"
)

// G1Point 是 BN254 G1 群元素的 64 字节大端编码（x||y）。
type G1Point [64]byte

// G2Point 是 BN254 G2 群元素的 128 字节大端编码（x.a||x.b||y.a||y.b）。
type G2Point [128]byte

// Proof 是一条 Groth16 证明。
type Proof struct {
	A G1Point `json:"a"`
	B G2Point `json:"b"`
	C G1Point `json:"c"`
}

// VerificationKey 是 Groth16 验证密钥。IC 的长度必须等于公共输入数加一。
type VerificationKey struct {
	Alpha G1Point   `json:"alpha"`
	Beta  G2Point   `json:"beta"`
	Gamma G2Point   `json:"gamma"`
	Delta G2Point   `json:"delta"`
	IC    []G1Point `json:"ic"`
}

var (
	errMalformedPoint  = errors.New("malformed group element")
	errInputCount      = errors.New("public input count does not match key")
	errInputOutOfField = errors.New("public input outside scalar field")
)

func unmarshalG1(raw G1Point) (*bn256.G1, error) {
	point := new(bn256.G1)
	if _, err := point.Unmarshal(raw[:]); err != nil {
		return nil, errMalformedPoint
	}
	return point, nil
}

func unmarshalG2(raw G2Point) (*bn256.G2, error) {
	point := new(bn256.G2)
	if _, err := point.Unmarshal(raw[:]); err != nil {
		return nil, errMalformedPoint
	}
	return point, nil
}

// VerifyProof 对给定公共输入执行 Groth16 配对检验：
//
//	e(-A, B) · e(alpha, beta) · e(vk_x, gamma) · e(C, delta) == 1
//
// 其中 vk_x = IC[0] + Σ input_i · IC[i+1]。该函数是纯函数，
// 不读取任何业务状态，可独立于上层规则测试。
func VerifyProof(vk *VerificationKey, proof *Proof, publicInputs []*big.Int) (bool, error) {
	if vk == nil || proof == nil {
		return false, errors.New("verification key and proof are required")
	}
	if len(vk.IC) != len(publicInputs)+1 {
		return false, errInputCount
	}
	for _, input := range publicInputs {
		if input == nil || input.Sign() < 0 || input.Cmp(bn256.Order) >= 0 {
			return false, errInputOutOfField
		}
	}

	a, err := unmarshalG1(proof.A)
	if err != nil {
		return false, err
	}
	b, err := unmarshalG2(proof.B)
	if err != nil {
		return false, err
	}
	c, err := unmarshalG1(proof.C)
	if err != nil {
		return false, err
	}
	alpha, err := unmarshalG1(vk.Alpha)
	if err != nil {
		return false, err
	}
	beta, err := unmarshalG2(vk.Beta)
	if err != nil {
		return false, err
	}
	gamma, err := unmarshalG2(vk.Gamma)
	if err != nil {
		return false, err
	}
	delta, err := unmarshalG2(vk.Delta)
	if err != nil {
		return false, err
	}

	vkx, err := unmarshalG1(vk.IC[0])
	if err != nil {
		return false, err
	}
	for i, input := range publicInputs {
		base, err := unmarshalG1(vk.IC[i+1])
		if err != nil {
			return false, err
		}
		term := new(bn256.G1).ScalarMult(base, input)
		vkx = new(bn256.G1).Add(vkx, term)
	}

	negA := new(bn256.G1).Neg(a)
	ok := bn256.PairingCheck(
		[]*bn256.G1{negA, alpha, vkx, c},
		[]*bn256.G2{b, beta, gamma, delta},
	)
	return ok, nil
}
