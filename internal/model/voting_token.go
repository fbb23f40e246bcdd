package model

const MaxTokenResend = 3

type VotingToken struct {
	ID            string `json:"id"`
	VoterID       string `json:"voter_id"`
	TokenHash     string `json:"-"`
	IsUsed        bool   `json:"is_used"`
	ResendCount   int    `json:"resend_count"`
	EmailSentAt   *int64 `json:"email_sent_at"`
	InvalidatedAt int64  `json:"invalidated_at"`
	Ctime         int64  `json:"ctime"`
}

// CurrentFor reports whether the token was issued under the given election
// generation and has not been invalidated since.
func (t *VotingToken) CurrentFor(generation int64) bool {
	return t.InvalidatedAt == 0 && t.Ctime >= generation
}

// ValidFor reports whether the token counts as the voter's credential for the
// generation: current, and either delivered or already redeemed. An
// undelivered token is re-issued by the next catch-up pass.
func (t *VotingToken) ValidFor(generation int64) bool {
	return t.CurrentFor(generation) && (t.EmailSentAt != nil || t.IsUsed)
}
