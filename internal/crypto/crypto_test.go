package crypto

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "hunter2")
	assert.NoError(t, err)

	key, err := DecryptKey(blob, "hunter2")
	assert.NoError(t, err)
	check.Equal(t, testKeyHex, common.Bytes2Hex(ethcrypto.FromECDSA(key)))

	_, err = DecryptKey(blob, "wrong")
	check.Error(t, err)

	_, err = EncryptKey(testKeyHex, "")
	check.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	raw, err := LoadKey(KeySource{RawPrivateKey: testKeyHex})
	assert.NoError(t, err)

	blob, err := EncryptKey(testKeyHex, "pw")
	assert.NoError(t, err)
	path := filepath.Join(t.TempDir(), "operator.json")
	assert.NoError(t, os.WriteFile(path, blob, 0o600))

	fromFile, err := LoadKey(KeySource{EncryptedKeyPath: path, KeyPassword: "pw"})
	assert.NoError(t, err)
	check.Equal(t, common.Bytes2Hex(ethcrypto.FromECDSA(raw)), common.Bytes2Hex(ethcrypto.FromECDSA(fromFile)))

	_, err = LoadKey(KeySource{})
	check.Error(t, err)
	check.False(t, KeySource{}.Configured())
}

func TestTxSigner(t *testing.T) {
	key, err := LoadKey(KeySource{RawPrivateKey: testKeyHex})
	assert.NoError(t, err)
	s, err := NewTxSigner(key, 11155111)
	assert.NoError(t, err)

	to := common.HexToAddress("0x00000000000000000000000000000000000c0de1")
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, To: &to, Value: new(big.Int), Gas: 21000, GasPrice: big.NewInt(1)})
	signed, err := s.SignTx(tx)
	assert.NoError(t, err)

	from, err := s.Sender(signed)
	assert.NoError(t, err)
	check.Equal(t, s.Address(), from)

	_, err = NewTxSigner(key, 0)
	check.Error(t, err)
}

func TestWebhookSignature(t *testing.T) {
	secret := []byte("s3cret")
	body := []byte(`{"type":"nft_sold"}`)

	headers := WebhookHeadersAt(secret, body, 1700000000)
	check.Equal(t, "1700000000", headers[TimestampHeader])
	sig := headers[SignatureHeader]
	check.True(t, VerifyPayload(secret, 1700000000, body, sig))
	check.False(t, VerifyPayload(secret, 1700000001, body, sig))
	check.False(t, VerifyPayload([]byte("other"), 1700000000, body, sig))
	check.False(t, VerifyPayload(secret, 1700000000, body, "deadbeef"))
}
