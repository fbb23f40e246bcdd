package model

type Voter struct {
	ID       string `json:"id"`
	NIM      string `json:"nim"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Deleted  int    `json:"deleted"`
	Ctime    int64  `json:"ctime"`
	Mtime    int64  `json:"mtime"`
}

// VoterInfo is the read-only projection the distribution engine works with.
type VoterInfo struct {
	ID       string `json:"id"`
	NIM      string `json:"nim"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

func (v *Voter) Info() VoterInfo {
	return VoterInfo{ID: v.ID, NIM: v.NIM, FullName: v.FullName, Email: v.Email}
}
