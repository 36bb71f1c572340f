package phierr

// Action names a cryptographic operation in errors, logs and metric tags.
type Action int8

const (
	Unknown Action = iota
	Encrypt
	Decrypt
	WrapKey
	UnwrapKey
)

func (a Action) String() string {
	switch a {
	case Encrypt:
		return "encrypt"
	case Decrypt:
		return "decrypt"
	case WrapKey:
		return "wrap key"
	case UnwrapKey:
		return "unwrap key"
	default:
		return "unknown"
	}
}
