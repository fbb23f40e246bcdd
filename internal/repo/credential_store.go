package repo

// CredentialStore joins the voter and token tables behind the single store
// the distribution engine depends on.
type CredentialStore struct {
	VoterReader
	*TokenRepo
}

func NewCredentialStore(voters VoterReader, tokens *TokenRepo) *CredentialStore {
	return &CredentialStore{VoterReader: voters, TokenRepo: tokens}
}
