package types

const (
	// KeySize is the size of every symmetric key and of X25519 keys
	KeySize = 32

	// NonceSize is the AES-GCM standard nonce size
	NonceSize = 12

	// TagSize is the AES-GCM authentication tag size
	TagSize = 16

	// SaltSize is the size of every random salt
	SaltSize = 16

	// PrivateKeyIterations is the PBKDF2 round count used to stretch the
	// master key before it protects the private key.
	PrivateKeyIterations = 100000
)

const (
	ContextAuthentication = "authentication"
	ContextEncryption     = "encryption"
	ContextIdentitySeed   = "x25519 identity"
)

const (
	KDFTypeArgon2id KDFType = iota + 1
	KDFTypeArgon2i
	KDFTypeArgon2d
	KDFTypePBKDF2
)

const (
	_ WrapKind = iota
	OwnerWrapped
	TransferWrapped
)

const (
	ErrorCodeValidation        = "VALIDATION_ERROR"
	ErrorCodeUnauthorized      = "UNAUTHORIZED"
	ErrorCodeNotFound          = "NOT_FOUND"
	ErrorCodeConflict          = "CONFLICT"
	ErrorCodeRecipientNotFound = "RECIPIENT_NOT_FOUND"
	ErrorCodeInternal          = "INTERNAL_ERROR"
)
