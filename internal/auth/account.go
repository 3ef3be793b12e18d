package auth

// StaticAccount is a fixed account identity, as configured for a dedicated
// room or read from a client's settings.
type StaticAccount struct {
	Name string
	JWT  string
}

// IsAccountLinked reports whether both a username and a token are present.
func (a StaticAccount) IsAccountLinked() bool {
	return a.Name != "" && a.JWT != ""
}

// Username returns the account name.
func (a StaticAccount) Username() string { return a.Name }

// Token returns the account token.
func (a StaticAccount) Token() string { return a.JWT }
