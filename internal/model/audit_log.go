package model

const AuditActorSystem = "system"

const (
	AuditActionStaleInvalidated  = "stale_invalidated"
	AuditActionBatchCompleted    = "batch_completed"
	AuditActionSingleVoterResult = "single_voter_result"
	AuditActionEmailDispatch     = "email_dispatch"
	AuditActionTokenResent       = "token_resent"
)

type AuditLog struct {
	ID       string `json:"id"`
	Action   string `json:"action"`
	Actor    string `json:"actor"`
	TargetID string `json:"target_id"`
	Detail   string `json:"detail"`
	Ctime    int64  `json:"ctime"`
}
