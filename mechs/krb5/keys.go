// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"crypto/rand"

	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/types"
)

// generateBaseKey makes a random subkey of keyType.  It differs from
// types.GenerateEncryptionKey for aes256-cts-hmac-sha384-192, whose base key is shorter
// than gokrb5's key size for that type.
func generateBaseKey(keyType int32) (types.EncryptionKey, error) {
	et, err := crypto.GetEtype(keyType)
	if err != nil {
		return types.EncryptionKey{}, err
	}

	kl := et.GetKeyByteSize()
	if keyType == etypeID.AES256_CTS_HMAC_SHA384_192 {
		kl = 32
	}

	b := make([]byte, kl)
	if _, err := rand.Read(b); err != nil {
		return types.EncryptionKey{}, err
	}

	return types.EncryptionKey{KeyType: keyType, KeyValue: b}, nil
}

func wipe(k *types.EncryptionKey) {
	if k != nil {
		clear(k.KeyValue)
	}
}
