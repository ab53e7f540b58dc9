/*
Package crypto implements the key hierarchy used to protect files stored in
an untrusted backend.

	password --argon2id--> digest
	digest   --hkdf("authentication", authSalt)--> authKey --argon2id--> authHash (sent to server)
	digest   --hkdf("encryption", encSalt)--> encKey
	encKey   --aes-256-gcm--> master key envelope
	hex(masterKey) --pbkdf2-sha256--> private key envelope
	masterKey --aes-256-gcm--> content key envelope (owner)
	sha256(x25519(sender, recipient)) --aes-256-gcm--> content key envelope (transfer)
	contentKey --aes-256-gcm--> file body

Every nonce is 12 random bytes and every tag is 16 bytes. Authentication
failures are always reported as a types.DecryptionError and are never
retried.

Functions in this package never retain keys. Intermediate material is wiped
once it is no longer required, but keys passed in by the caller are left
untouched. Callers holding keys for any length of time should seal them, for
example with a `memguard.Enclave`:

	package main

	import (
		"github.com/awnumar/memguard"
		"github.com/notapipeline/fvault/pkg/crypto"
	)

	var keyEnclave *memguard.Enclave

	func storeKey(key []byte) {
		keyEnclave = memguard.NewEnclave(key)
	}

	func getKey() (kc []byte) {
		kb, err := keyEnclave.Open()
		if err != nil {
			panic(err)
		}
		defer kb.Destroy()
		kc = append(kc, kb.Bytes()...)
		return
	}

	func main() {
		masterKey, _ := crypto.NewMasterKey()
		storeKey(masterKey)

		contentKey, _ := crypto.NewContentKey()
		wrapped, nonce, err := crypto.WrapContentKey(contentKey, getKey())
		...
	}

The cache package does exactly this for unlocked sessions.
*/
package crypto
