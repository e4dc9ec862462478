package core

import (
	"crypto/md5"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMakeKeyV2(t *testing.T) {
	ekey := []byte{0x01, 0x02, 0x03, 0x04, 0x05}

	// The object key is md5(file key || low 3 bytes of obj num || low 2
	// bytes of gen num), truncated to len(ekey)+5 bytes.
	input := append([]byte{}, ekey...)
	input = append(input, 0x07, 0x00, 0x00) // objNum 7
	input = append(input, 0x02, 0x00)       // genNum 2
	sum := md5.Sum(input)

	key, err := makeKeyV2(7, 2, ekey, false)
	require.NoError(t, err)
	require.Equal(t, sum[:10], key)
}

func TestMakeKeyV2AES(t *testing.T) {
	ekey := make([]byte, 16)
	for i := range ekey {
		ekey[i] = byte(i)
	}

	input := append([]byte{}, ekey...)
	input = append(input, 0x01, 0x00, 0x00)
	input = append(input, 0x00, 0x00)
	input = append(input, 0x73, 0x41, 0x6C, 0x54) // "sAlT"
	sum := md5.Sum(input)

	key, err := makeKeyV2(1, 0, ekey, true)
	require.NoError(t, err)
	require.Equal(t, sum[:16], key)
}

func TestRC4FilterSymmetric(t *testing.T) {
	cf := NewCryptFilterV2(16)
	require.Equal(t, "V2", cf.Name())
	require.Equal(t, 16, cf.KeyLength())

	key := []byte("0123456789abcdef")
	plain := []byte("some secret data")

	buf := append([]byte{}, plain...)
	encrypted, err := cf.EncryptBytes(buf, key)
	require.NoError(t, err)
	require.NotEqual(t, plain, encrypted)

	decrypted, err := cf.DecryptBytes(encrypted, key)
	require.NoError(t, err)
	require.Equal(t, plain, decrypted)
}

func TestAESFilterRoundTrip(t *testing.T) {
	cf := NewCryptFilterAESV3()
	require.Equal(t, "AESV3", cf.Name())
	require.Equal(t, 32, cf.KeyLength())

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i * 3)
	}
	plain := []byte("a message that is not block aligned")

	encrypted, err := cf.EncryptBytes(append([]byte{}, plain...), key)
	require.NoError(t, err)
	// IV + padded data.
	require.Equal(t, 0, len(encrypted)%16)
	require.True(t, len(encrypted) >= len(plain)+16)

	decrypted, err := cf.DecryptBytes(encrypted, key)
	require.NoError(t, err)
	require.Equal(t, plain, decrypted)
}

func TestAESV3KeyIsFileKey(t *testing.T) {
	cf := NewCryptFilterAESV3()
	fkey := make([]byte, 32)
	key, err := cf.MakeKey(99, 1, fkey)
	require.NoError(t, err)
	require.Equal(t, fkey, key)
}

// makeDecryptSide builds the reader-side crypt handler from a generated
// encryption dictionary, as if the dictionary had been parsed from a file.
func makeDecryptSide(t *testing.T, info *EncryptInfo) *Crypt {
	trailer := MakeDict()
	trailer.Set("ID", MakeArray(MakeString(info.ID0), MakeString(info.ID1)))

	crypter, err := NewCryptFromDecrypt(nil, info.Encrypt, trailer)
	require.NoError(t, err)
	return crypter
}

func TestEncryptDecryptRC4(t *testing.T) {
	cf := NewCryptFilterV2(16)
	_, info, err := NewCryptForEncrypt(cf, []byte("user"), []byte("owner"), PermOwner)
	require.NoError(t, err)

	v, ok := GetIntVal(info.Encrypt.Get("V"))
	require.True(t, ok)
	require.Equal(t, 2, v)

	// Authenticate with the user password.
	dec := makeDecryptSide(t, info)
	auth, err := dec.authenticate([]byte("user"))
	require.NoError(t, err)
	require.True(t, auth)

	// Authenticate with the owner password (recovers the user password
	// for R<5).
	dec = makeDecryptSide(t, info)
	auth, err = dec.authenticate([]byte("owner"))
	require.NoError(t, err)
	require.True(t, auth)

	// Wrong password fails.
	dec = makeDecryptSide(t, info)
	auth, err = dec.authenticate([]byte("wrong"))
	require.NoError(t, err)
	require.False(t, auth)
}

func TestEncryptDecryptAES256(t *testing.T) {
	cf := NewCryptFilterAESV3()
	enc, info, err := NewCryptForEncrypt(cf, []byte("user"), []byte("owner"), PermOwner)
	require.NoError(t, err)

	v, ok := GetIntVal(info.Encrypt.Get("V"))
	require.True(t, ok)
	require.Equal(t, 5, v)
	r, ok := GetIntVal(info.Encrypt.Get("R"))
	require.True(t, ok)
	require.Equal(t, 6, r)

	// Encrypt an object graph with the write-side handler.
	content := MakeDict()
	content.Set("Title", MakeString("top secret"))
	ind := MakeIndirectObject(content)
	ind.ObjectNumber = 4
	require.NoError(t, enc.Encrypt(ind, 4, 0))
	encVal, _ := content.GetString("Title")
	require.NotEqual(t, "top secret", encVal)

	// Owner password authenticates and yields the same file key.
	dec := makeDecryptSide(t, info)
	auth, err := dec.authenticate([]byte("owner"))
	require.NoError(t, err)
	require.True(t, auth)
	require.Equal(t, enc.encryptionKey, dec.encryptionKey)

	// User password too.
	dec2 := makeDecryptSide(t, info)
	auth, err = dec2.authenticate([]byte("user"))
	require.NoError(t, err)
	require.True(t, auth)

	// And the round-tripped object decrypts to the original value.
	require.NoError(t, dec.Decrypt(ind, 4, 0))
	decVal, _ := content.GetString("Title")
	require.Equal(t, "top secret", decVal)
}

func TestEncryptDecryptAES256WrongPassword(t *testing.T) {
	cf := NewCryptFilterAESV3()
	_, info, err := NewCryptForEncrypt(cf, []byte("user"), []byte("owner"), PermOwner)
	require.NoError(t, err)

	dec := makeDecryptSide(t, info)
	auth, err := dec.authenticate([]byte("nope"))
	require.NoError(t, err)
	require.False(t, auth)
}

func TestCheckAccessRights(t *testing.T) {
	cf := NewCryptFilterV2(16)
	perms := PermPrinting | PermExtractGraphics
	_, info, err := NewCryptForEncrypt(cf, []byte("user"), []byte("owner"), perms)
	require.NoError(t, err)

	dec := makeDecryptSide(t, info)
	ok, p, err := dec.checkAccessRights([]byte("owner"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, PermOwner, p)

	dec = makeDecryptSide(t, info)
	ok, p, err = dec.checkAccessRights([]byte("user"))
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, p.Allowed(PermPrinting))
	require.False(t, p.Allowed(PermModify))

	dec = makeDecryptSide(t, info)
	ok, _, err = dec.checkAccessRights([]byte("bogus"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRawFileKeyBypass(t *testing.T) {
	cf := NewCryptFilterAESV3()
	enc, info, err := NewCryptForEncrypt(cf, []byte("user"), []byte("owner"), PermOwner)
	require.NoError(t, err)

	dec := makeDecryptSide(t, info)
	dec.useFileKey(enc.encryptionKey)
	require.True(t, dec.authenticated)
	require.Equal(t, enc.encryptionKey, dec.encryptionKey)
}

func TestXrefStreamNeverEncrypted(t *testing.T) {
	cf := NewCryptFilterV2(16)
	enc, _, err := NewCryptForEncrypt(cf, []byte(""), []byte(""), PermOwner)
	require.NoError(t, err)

	dict := MakeDict()
	dict.Set("Type", MakeName("XRef"))
	stream := &Stream{Dict: dict, Data: []byte{1, 2, 3}}
	stream.ObjectNumber = 9

	require.NoError(t, enc.Encrypt(stream, 9, 0))
	require.Equal(t, []byte{1, 2, 3}, stream.Data)
}

func TestSignatureContentsNotTouched(t *testing.T) {
	cf := NewCryptFilterV2(16)
	enc, _, err := NewCryptForEncrypt(cf, []byte(""), []byte(""), PermOwner)
	require.NoError(t, err)

	sig := MakeDict()
	sig.Set("Type", MakeName("Sig"))
	sig.Set("Contents", MakeString("\x01\x02\x03"))
	sig.Set("Reason", MakeString("approval"))
	ind := MakeIndirectObject(sig)
	ind.ObjectNumber = 3

	require.NoError(t, enc.Encrypt(ind, 3, 0))

	contents, _ := sig.GetString("Contents")
	require.Equal(t, "\x01\x02\x03", contents)
	reason, _ := sig.GetString("Reason")
	require.NotEqual(t, "approval", reason)
}
