package models

import "time"

// PostType classifies a timeline entry by the structural marker it carries.
type PostType string

const (
	PostOriginal PostType = "Original"
	PostRetweet  PostType = "Retweet"
	PostQuote    PostType = "Quote"
	PostPromoted PostType = "Promoted"
)

// RunStatus records how a run ended. It is not part of the JSON document; sinks
// surface it through the file name or a separate field.
type RunStatus string

const (
	RunComplete  RunStatus = "complete"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// ProfileSummary holds the account-level stats read once from the profile header.
// PostCount is whatever the page advertises and is never reconciled against the
// number of scraped posts.
type ProfileSummary struct {
	AccountName string `json:"Account Name" firestore:"accountName"`
	Handle      string `json:"Handle" firestore:"handle"`
	Followers   int    `json:"Followers" firestore:"followers" validate:"gte=0"`
	PostCount   int    `json:"Tweet Count" firestore:"postCount" validate:"gte=0"`
}

// EngagementCounts are the interaction metrics attached to a post. Views is nil
// when the post does not expose a views control.
type EngagementCounts struct {
	Reply  int  `json:"Reply" firestore:"reply" validate:"gte=0"`
	Repost int  `json:"Repost" firestore:"repost" validate:"gte=0"`
	Like   int  `json:"Like" firestore:"like" validate:"gte=0"`
	Views  *int `json:"Views" firestore:"views" validate:"omitnil,gte=0"`
}

// PostRecord is one extracted post. Records are immutable once created.
type PostRecord struct {
	ID         string           `json:"id" firestore:"id" validate:"required"`
	Type       PostType         `json:"Post Type" firestore:"postType" validate:"required,oneof=Original Retweet Quote Promoted"`
	Text       string           `json:"Text" firestore:"text"`
	Timestamp  *string          `json:"Date" firestore:"date"`
	Engagement EngagementCounts `json:"Engagement" firestore:"engagement"`
}

// ScrapeResult is the terminal artifact of a run. Posts are in first-seen order.
type ScrapeResult struct {
	ProfileSummary
	Posts []PostRecord `json:"Posts" firestore:"-" validate:"dive"`

	Status     RunStatus `json:"-" firestore:"status"`
	StartedAt  time.Time `json:"-" firestore:"startedAt"`
	FinishedAt time.Time `json:"-" firestore:"finishedAt"`
}

// Complete reports whether the run scrolled until no more content loaded.
func (r *ScrapeResult) Complete() bool {
	return r.Status == RunComplete
}
