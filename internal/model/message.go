package model

import (
	"fmt"
	"time"
)

// Category is the intent classification assigned to a message.
type Category string

const (
	CategoryInterested    Category = "Interested"
	CategoryMeetingBooked Category = "Meeting Booked"
	CategoryNotInterested Category = "Not Interested"
	CategorySpam          Category = "Spam"
	CategoryOutOfOffice   Category = "Out of Office"

	// CategoryUncategorized is the default before classification completes
	// or when classification is indeterminate. It is not a valid output of
	// the classifier itself.
	CategoryUncategorized Category = "Uncategorized"
)

// Categories returns the closed set of classifier output categories.
func Categories() []Category {
	return []Category{
		CategoryInterested,
		CategoryMeetingBooked,
		CategoryNotInterested,
		CategorySpam,
		CategoryOutOfOffice,
	}
}

// ValidCategory reports whether c is a member of the classifier output set.
func ValidCategory(c Category) bool {
	for _, v := range Categories() {
		if c == v {
			return true
		}
	}
	return false
}

// MessageID builds the canonical message identity from the owning account
// and the server-assigned UID. The same (account, uid) pair always yields
// the same id.
func MessageID(accountID string, uid uint32) string {
	return fmt.Sprintf("%s-%d", accountID, uid)
}

// Message is the canonical representation of one mailbox message flowing
// through the ingestion pipeline and stored locally.
type Message struct {
	// ID is accountId + "-" + serverUid, unique per (account, uid) pair.
	ID string `json:"id"`

	// AccountID identifies the mailbox account this message belongs to.
	AccountID string `json:"accountId"`

	// Folder is the mailbox folder the message was fetched from.
	Folder string `json:"folder"`

	Subject string `json:"subject"`

	// Body is the decoded plain-text body with HTML stripped.
	Body string `json:"body"`

	// From is the normalized sender address.
	From string `json:"from"`

	// To is the ordered list of normalized recipient addresses.
	To []string `json:"to"`

	// Date is the message timestamp. Always present; defaults to the
	// ingestion time when the source omits it.
	Date time.Time `json:"date"`

	// Category is assigned by the ingestion pipeline.
	Category Category `json:"category"`

	// IndexedAt is the time of last persistence.
	IndexedAt time.Time `json:"indexedAt"`

	// UID is the server-assigned sequence number, monotonic per folder
	// per account. It is the sync watermark.
	UID uint32 `json:"uid"`

	// Flags holds the raw protocol flags, possibly empty.
	Flags []string `json:"flags"`

	// Size is the byte length of the raw message.
	Size int64 `json:"size"`
}

// Lead records an Interested-categorized message that was fanned out to
// the notification channels.
type Lead struct {
	ID        string    `json:"id"`
	MessageID string    `json:"messageId"`
	AccountID string    `json:"accountId"`
	Subject   string    `json:"subject"`
	From      string    `json:"from"`
	CreatedAt time.Time `json:"createdAt"`
}
