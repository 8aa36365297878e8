package model

// Operation identifiers
type OperationID string

const (
	OperationRemoveBackground OperationID = "remove_background"
	OperationStudioShadow     OperationID = "studio_shadow"
	OperationStudioLighting   OperationID = "studio_lighting"
	OperationAIBackground     OperationID = "ai_background"
	OperationProductToModel   OperationID = "product_to_model"
	OperationVirtualTryOn     OperationID = "virtual_tryon"
	OperationModelSwap        OperationID = "model_swap"
)

// Provider families
type Family string

const (
	FamilyStudio Family = "studio" // single synchronous call
	FamilyModel  Family = "model"  // submit, poll, fetch
)

// Subscription tiers
type Tier string

const (
	TierFree     Tier = "free"
	TierStarter  Tier = "starter"
	TierPro      Tier = "pro"
	TierBusiness Tier = "business"
)

var tierRanks = map[Tier]int{
	TierFree:     1,
	TierStarter:  2,
	TierPro:      3,
	TierBusiness: 4,
}

// Rank orders tiers; unknown tiers rank below free.
func (t Tier) Rank() int {
	return tierRanks[t]
}

func (t Tier) Valid() bool {
	_, ok := tierRanks[t]
	return ok
}

// Usage categories counted by the credit ledger
type UsageCategory string

const (
	CategoryPhotoEdits UsageCategory = "photo_edits"
	CategoryModelShots UsageCategory = "model_shots"
)

var UsageCategories = []UsageCategory{CategoryPhotoEdits, CategoryModelShots}

// Job status
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Failure kinds recorded on failed jobs
type FailureKind string

const (
	FailureTransport          FailureKind = "transport"
	FailureValidation         FailureKind = "validation"
	FailureProcessing         FailureKind = "processing"
	FailureTimeout            FailureKind = "timeout"
	FailureStorage            FailureKind = "storage"
	FailureInsufficientCredit FailureKind = "insufficient_credit"
	FailureInternal           FailureKind = "internal"
)
