package types

const redactedPlaceholder = "***REDACTED***"

// SecretString holds a credential. It prints and marshals as a redacted
// placeholder so config dumps and log lines never carry the raw value.
type SecretString string

// String implements fmt.Stringer.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// GoString keeps %#v redacted as well.
func (s SecretString) GoString() string {
	return redactedPlaceholder
}

// MarshalJSON implements json.Marshaler.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedPlaceholder + `"`), nil
}

// Unmask returns the raw value. Use only at the point of handing the secret
// to a driver or client.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsZero reports whether the secret is empty.
func (s SecretString) IsZero() bool {
	return s == ""
}
