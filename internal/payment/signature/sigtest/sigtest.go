// Package sigtest 为测试生成商户私钥与平台证书。
package sigtest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/wechatpay-apiv3/wechatpay-go/utils"
)

// KeyPair 测试密钥对与自签证书
type KeyPair struct {
	PrivateKey    *rsa.PrivateKey
	PrivateKeyPEM string
	Certificate   *x509.Certificate
	CertPEM       string
	Serial        string
}

// NewKeyPair 生成 2048 位 RSA 密钥及对应自签证书
func NewKeyPair(t testing.TB, serial int64) KeyPair {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key failed: %v", err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		t.Fatalf("marshal pkcs8 failed: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: "jifen test platform"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		t.Fatalf("create certificate failed: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate failed: %v", err)
	}
	return KeyPair{
		PrivateKey:    privateKey,
		PrivateKeyPEM: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})),
		Certificate:   cert,
		CertPEM:       string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})),
		Serial:        utils.GetCertificateSerialNumber(*cert),
	}
}

// SignV3 以平台私钥对回调报文签名
func (k KeyPair) SignV3(t testing.TB, timestamp, nonce, body string) string {
	t.Helper()
	signature, err := utils.SignSHA256WithRSA(timestamp+"\n"+nonce+"\n"+body+"\n", k.PrivateKey)
	if err != nil {
		t.Fatalf("sign v3 message failed: %v", err)
	}
	return signature
}
