package tripsync

// Session is the sign-in state consumed by the sync core: the current
// account identifier and whether the account has sync turned on.
type Session struct {
	AccountID   string
	SyncEnabled bool
}

// LocalOnly reports whether sync is suspended entirely for this session.
func (s Session) LocalOnly() bool {
	return s.AccountID == "" || !s.SyncEnabled
}
