package adb

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
)

// keyBits matches the keys adb itself generates.
const keyBits = 2048

// LoadOrCreateKey reads the adb private key at path, generating one (and
// its .pub companion) when none exists. The format is compatible with the
// platform-tools key, so devices that trust `adb` also trust sbctool.
func LoadOrCreateKey(path, comment string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return parsePrivateKey(data)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read adb key %s: %w", path, err)
	}

	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("generate adb key: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("encode adb key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600); err != nil {
		return nil, fmt.Errorf("write adb key: %w", err)
	}

	pub, err := AndroidPublicKey(&key.PublicKey, comment)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path+".pub", pub, 0o644); err != nil {
		return nil, fmt.Errorf("write adb public key: %w", err)
	}
	return key, nil
}

func parsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("adb key is not PEM encoded")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse adb key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("adb key is %T, want RSA", parsed)
	}
	return key, nil
}

// signToken signs the 20-byte AUTH token. adbd treats the token itself as
// the SHA-1 digest, so no hashing happens here.
func signToken(key *rsa.PrivateKey, token []byte) ([]byte, error) {
	return rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA1, token)
}

// AndroidPublicKey encodes pub in the mincrypt RSAPublicKey layout adbd
// expects, base64 encoded and followed by " comment".
func AndroidPublicKey(pub *rsa.PublicKey, comment string) ([]byte, error) {
	if pub.N.BitLen() != keyBits {
		return nil, fmt.Errorf("adb keys must be %d bits, got %d", keyBits, pub.N.BitLen())
	}

	const words = keyBits / 32
	buf := make([]byte, 4+4+words*4+words*4+4)

	binary.LittleEndian.PutUint32(buf[0:], words)

	// n0inv = -1 / n[0] mod 2^32
	r32 := new(big.Int).Lsh(big.NewInt(1), 32)
	n0 := new(big.Int).Mod(pub.N, r32)
	inv := new(big.Int).ModInverse(n0, r32)
	if inv == nil {
		return nil, fmt.Errorf("modulus is not invertible mod 2^32")
	}
	n0inv := new(big.Int).Sub(r32, inv)
	binary.LittleEndian.PutUint32(buf[4:], uint32(n0inv.Uint64()))

	putLittleEndian(buf[8:8+words*4], pub.N)

	// rr = (2^keyBits)^2 mod n
	rr := new(big.Int).Lsh(big.NewInt(1), 2*keyBits)
	rr.Mod(rr, pub.N)
	putLittleEndian(buf[8+words*4:8+2*words*4], rr)

	binary.LittleEndian.PutUint32(buf[8+2*words*4:], uint32(pub.E))

	encoded := base64.StdEncoding.EncodeToString(buf)
	if comment != "" {
		encoded += " " + comment
	}
	return []byte(encoded), nil
}

// putLittleEndian writes v into dst least significant byte first.
func putLittleEndian(dst []byte, v *big.Int) {
	be := v.FillBytes(make([]byte, len(dst)))
	for i := range be {
		dst[i] = be[len(be)-1-i]
	}
}

// KeyComment is the user@host suffix adb appends to public keys.
func KeyComment() string {
	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return user + "@" + host
}
