package fetcher

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"errors"
	"fmt"
)

// EncryptionMode agent 输出加密策略
type EncryptionMode string

const (
	EncryptionDisabled      EncryptionMode = "disabled"
	EncryptionOpportunistic EncryptionMode = "opportunistic"
	EncryptionEnforced      EncryptionMode = "enforced"
)

// Encryption 主机的加密设置
type Encryption struct {
	Mode       EncryptionMode
	Passphrase string
}

const (
	versionPrefixLen = 2
	keyLen           = 32
)

var plaintextMarker = []byte("<<<check_mk>>>")

var errPlaintextEnforced = errors.New("Agent output is plaintext but encryption is enforced by configuration")

// deriveKeyAndIV OpenSSL EVP_BytesToKey（MD5，无盐）派生 AES-256 key 与 IV
func deriveKeyAndIV(passphrase []byte) (key, iv []byte) {
	var d, di []byte
	for len(d) < keyLen+aes.BlockSize {
		h := md5.New()
		h.Write(di)
		h.Write(passphrase)
		di = h.Sum(nil)
		d = append(d, di...)
	}
	return d[:keyLen], d[keyLen : keyLen+aes.BlockSize]
}

// decrypt 解密 agent 输出：2 字节版本号 + AES-256-CBC 密文（PKCS#7 填充）
func decrypt(payload []byte, passphrase string) ([]byte, error) {
	if len(payload) < versionPrefixLen {
		return nil, errors.New("encrypted payload too short")
	}
	data := payload[versionPrefixLen:]
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(data))
	}

	key, iv := deriveKeyAndIV([]byte(passphrase))
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, data)

	pad := int(plain[len(plain)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(plain) {
		return nil, errors.New("invalid padding")
	}
	if !bytes.Equal(plain[len(plain)-pad:], bytes.Repeat([]byte{byte(pad)}, pad)) {
		return nil, errors.New("invalid padding")
	}
	return plain[:len(plain)-pad], nil
}

// applyEncryption 按策略处理 agent 输出
func applyEncryption(payload []byte, enc Encryption) ([]byte, error) {
	switch enc.Mode {
	case EncryptionEnforced:
		if bytes.HasPrefix(payload, plaintextMarker) {
			return nil, errPlaintextEnforced
		}
		plain, err := decrypt(payload, enc.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("Failed to decrypt agent output: %w", err)
		}
		return plain, nil
	case EncryptionOpportunistic:
		if bytes.HasPrefix(payload, []byte("<<<")) {
			return payload, nil
		}
		if plain, err := decrypt(payload, enc.Passphrase); err == nil {
			return plain, nil
		}
		return payload, nil
	default:
		return payload, nil
	}
}
