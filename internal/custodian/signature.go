package custodian

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"go.uber.org/zap"
)

// Verifier проверяет подпись webhook-уведомлений кастодиана.
// Подпись — base64 RSA-SHA512 над сырым телом запроса, ключ выбирается
// по окружению (sandbox или production).
type Verifier struct {
	publicKey *rsa.PublicKey
	skip      bool
	logger    *zap.Logger
}

// NewVerifier создает проверку подписи из PEM-ключа.
// skip включает обход проверки: допустим только вне production
// (конфигурация гасит флаг в production принудительно).
func NewVerifier(publicKeyPEM string, skip bool, logger *zap.Logger) (*Verifier, error) {
	v := &Verifier{skip: skip, logger: logger}

	if publicKeyPEM == "" {
		if !skip {
			return nil, fmt.Errorf("публичный ключ webhook'ов не задан")
		}
		logger.Warn("проверка подписи webhook'ов отключена: ключ не задан")
		return v, nil
	}

	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("ошибка разбора PEM публичного ключа")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора публичного ключа: %w", err)
	}

	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("публичный ключ webhook'ов не является RSA ключом")
	}

	v.publicKey = rsaKey
	return v, nil
}

// Verify проверяет подпись сырого тела запроса
func (v *Verifier) Verify(body []byte, signatureBase64 string) error {
	if v.skip {
		v.logger.Warn("проверка подписи webhook'а пропущена по конфигурации")
		return nil
	}

	if v.publicKey == nil {
		return fmt.Errorf("публичный ключ webhook'ов не задан")
	}

	signature, err := base64.StdEncoding.DecodeString(signatureBase64)
	if err != nil {
		return fmt.Errorf("ошибка декодирования подписи: %w", err)
	}

	digest := sha512.Sum512(body)
	if err := rsa.VerifyPKCS1v15(v.publicKey, crypto.SHA512, digest[:], signature); err != nil {
		return fmt.Errorf("неверная подпись webhook'а: %w", err)
	}

	return nil
}
