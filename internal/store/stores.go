package store

// Stores bundles every store contract the daemon needs, regardless of
// which backend (Postgres or file) provides them.
type Stores struct {
	Accounts    AccountStore
	Credentials CredentialStore
	Contacts    ContactStore
}
