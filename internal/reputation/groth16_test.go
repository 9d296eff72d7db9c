package reputation

import (
	"math/big"
	"testing"

	bn256 "github.com/ethereum/go-ethereum/crypto/bn256/cloudflare"
)

// trivialSetup 构造一组恒成立的密钥与证明：
// A=alpha、B=beta 使 e(-A,B)·e(alpha,beta)=1，
// IC 与 C 取无穷远点使其余两个配对项为单位元。
func trivialSetup(inputs int) (*VerificationKey, *Proof) {
	g1 := new(bn256.G1).ScalarBaseMult(big.NewInt(1))
	g2 := new(bn256.G2).ScalarBaseMult(big.NewInt(1))

	var alpha G1Point
	copy(alpha[:], g1.Marshal())
	var beta G2Point
	copy(beta[:], g2.Marshal())

	key := &VerificationKey{
		Alpha: alpha,
		Beta:  beta,
		IC:    make([]G1Point, inputs+1),
	}
	proof := &Proof{A: alpha, B: beta}
	return key, proof
}

func TestVerifyProofAcceptsSatisfiedRelation(t *testing.T) {
	key, proof := trivialSetup(2)
	inputs := []*big.Int{big.NewInt(50), big.NewInt(12_345)}

	ok, err := VerifyProof(key, proof, inputs)
	if err != nil {
		t.Fatalf("验证出错: %v", err)
	}
	if !ok {
		t.Fatal("满足关系的证明应当通过")
	}
}

func TestVerifyProofRejectsTamperedProof(t *testing.T) {
	key, proof := trivialSetup(2)
	// 把 A 换成 2G，配对乘积不再为单位元。
	doubled := new(bn256.G1).ScalarBaseMult(big.NewInt(2))
	copy(proof.A[:], doubled.Marshal())

	ok, err := VerifyProof(key, proof, []*big.Int{big.NewInt(50), big.NewInt(12_345)})
	if err != nil {
		t.Fatalf("验证出错: %v", err)
	}
	if ok {
		t.Fatal("被篡改的证明不应通过")
	}
}

func TestVerifyProofRejectsMalformedPoints(t *testing.T) {
	key, proof := trivialSetup(2)
	for i := range proof.A {
		proof.A[i] = 0xFF
	}
	if _, err := VerifyProof(key, proof, []*big.Int{big.NewInt(1), big.NewInt(2)}); err == nil {
		t.Fatal("非法群元素应返回错误")
	}
}

func TestVerifyProofValidatesInputs(t *testing.T) {
	key, proof := trivialSetup(2)

	if _, err := VerifyProof(key, proof, []*big.Int{big.NewInt(1)}); err == nil {
		t.Fatal("公共输入个数不符应返回错误")
	}
	outOfField := new(big.Int).Set(bn256.Order)
	if _, err := VerifyProof(key, proof, []*big.Int{big.NewInt(1), outOfField}); err == nil {
		t.Fatal("超出标量域的输入应返回错误")
	}
	negative := big.NewInt(-1)
	if _, err := VerifyProof(key, proof, []*big.Int{negative, big.NewInt(1)}); err == nil {
		t.Fatal("负数输入应返回错误")
	}
	if _, err := VerifyProof(nil, proof, []*big.Int{big.NewInt(1), big.NewInt(2)}); err == nil {
		t.Fatal("缺失密钥应返回错误")
	}
	if _, err := VerifyProof(key, nil, []*big.Int{big.NewInt(1), big.NewInt(2)}); err == nil {
		t.Fatal("缺失证明应返回错误")
	}
}

func FuzzVerifyProofNeverPanics(f *testing.F) {
	f.Add(make([]byte, 64), make([]byte, 128), make([]byte, 64))
	f.Add([]byte{0x01}, []byte{0x02}, []byte{0x03})
	f.Fuzz(func(t *testing.T, a, b, c []byte) {
		key, proof := trivialSetup(2)
		copy(proof.A[:], a)
		copy(proof.B[:], b)
		copy(proof.C[:], c)
		// 任意字节串只允许失败，不允许崩溃。
		_, _ = VerifyProof(key, proof, []*big.Int{big.NewInt(1), big.NewInt(2)})
	})
}
